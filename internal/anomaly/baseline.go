package anomaly

// Baseline is the rolling traffic history of one test: the visitors seen in
// each of the most recent windows, where a window is the span between two
// snapshots with different visitor totals.
type Baseline struct {
	Windows       []uint64
	PreviousTotal uint64
	// Seen is false until the first snapshot has been observed.
	Seen bool
}

// Mean returns the average visitors per window.
func (b Baseline) Mean() (float64, bool) {
	if len(b.Windows) == 0 {
		return 0, false
	}
	var sum float64
	for _, w := range b.Windows {
		sum += float64(w)
	}
	return sum / float64(len(b.Windows)), true
}

// CurrentWindow returns the visitors that arrived since the previous
// snapshot. A total below the previous one is treated as a counter reset.
func (b Baseline) CurrentWindow(total uint64) uint64 {
	if total < b.PreviousTotal {
		return total
	}
	return total - b.PreviousTotal
}

// Observe returns the baseline after recording a snapshot with the given
// visitor total, keeping at most size windows. The first snapshot only sets
// the starting point: its total includes traffic from before monitoring
// began. An unchanged total records nothing.
func (b Baseline) Observe(total uint64, size int) Baseline {
	if !b.Seen {
		return Baseline{PreviousTotal: total, Seen: true}
	}
	if total == b.PreviousTotal {
		return b
	}

	windows := append(append([]uint64(nil), b.Windows...), b.CurrentWindow(total))
	if size > 0 && len(windows) > size {
		windows = windows[len(windows)-size:]
	}
	return Baseline{Windows: windows, PreviousTotal: total, Seen: true}
}

// Replay rebuilds a baseline from the visitor totals of past snapshots,
// oldest first.
func Replay(totals []uint64, size int) Baseline {
	var b Baseline
	for _, total := range totals {
		b = b.Observe(total, size)
	}
	return b
}
