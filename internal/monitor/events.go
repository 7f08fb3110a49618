package monitor

import (
	"sync/atomic"
	"time"

	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/store"
)

type EventType string

const (
	EventMonitoringStarted EventType = "monitoring_started"
	EventMonitoringStopped EventType = "monitoring_stopped"
	EventAnalysisComplete  EventType = "analysis_complete"
	EventAlert             EventType = "alert"
	EventAnalysisError     EventType = "analysis_error"
	EventConfigUpdated     EventType = "config_updated"
)

// Event is delivered to every subscribed Listener. Only the fields relevant
// to Type are set.
type Event struct {
	Type      EventType
	TestID    string
	Timestamp time.Time

	// analysis_complete and alert
	Result *store.AnalysisResult
	// alert
	Alert *store.Alert
	// analysis_error
	Err error
	// config_updated: the new configuration and the fields that changed
	Config  *config.Monitoring
	Changes *config.Patch
}

// Listener receives engine events. OnEvent is called synchronously from the
// goroutine that produced the event and must not block for long. Listeners
// must not call Engine.Shutdown.
type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ChannelListener forwards events to a buffered channel. Events that do not
// fit are dropped and counted rather than blocking the engine.
type ChannelListener struct {
	C       chan Event
	dropped atomic.Uint64
}

func NewChannelListener(size int) *ChannelListener {
	return &ChannelListener{C: make(chan Event, size)}
}

func (l *ChannelListener) OnEvent(e Event) {
	select {
	case l.C <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the channel.
func (l *ChannelListener) Dropped() uint64 {
	return l.dropped.Load()
}
