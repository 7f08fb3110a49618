// Package monitor runs the statistical monitoring engine: a registry of
// active experiments, one scheduler goroutine per experiment and the analysis
// pipeline that turns each metrics snapshot into results and alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/statwatch/internal/anomaly"
	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/metrics"
	"github.com/headline-goat/statwatch/internal/store"
)

var ErrEngineClosed = errors.New("engine is shut down")

const storeTimeout = 5 * time.Second

// MonitoringStatus describes one known test.
type MonitoringStatus struct {
	TestID        string     `json:"testId"`
	IsActive      bool       `json:"isActive"`
	LastAnalysis  *time.Time `json:"lastAnalysis,omitempty"`
	AnalysisCount int        `json:"analysisCount"`
}

// testState is everything the engine keeps for one test id. Stopped tests
// stay in the registry so their history remains queryable.
type testState struct {
	metrics store.TestMetrics
	active  bool
	cancel  context.CancelFunc
	reset   chan time.Duration

	results       []store.AnalysisResult
	anomalies     []store.AnomalyReport
	alerts        []store.Alert
	baseline      anomaly.Baseline
	lastAnalysis  *time.Time
	analysisCount int

	// seq numbers metrics snapshots; baselineSeq is the newest snapshot the
	// baseline has observed. Passes over older snapshots leave it alone.
	seq         uint64
	baselineSeq uint64
}

type subscription struct {
	id       uint64
	listener Listener
}

// Engine owns the test registry and the configuration snapshot. All methods
// are safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	cfg       config.Monitoring
	tests     map[string]*testState
	listeners []subscription
	nextSubID uint64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// serializes store writes so an older history never lands last
	persistMu sync.Mutex

	store     store.Store
	logger    *zap.Logger
	metrics   *metrics.Collector
	detector  *anomaly.Detector
	newSource func() rand.Source
	now       func() time.Time
}

// New returns an engine using cfg. The configuration is validated first.
func New(cfg config.Monitoring, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		tests:    make(map[string]*testState),
		ctx:      ctx,
		cancel:   cancel,
		logger:   zap.NewNop(),
		detector: anomaly.NewDetector(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "monitor"))
	return e, nil
}

// StartMonitoring registers the test as active and schedules periodic
// analysis. Calling it again for an active test replaces its metrics and
// keeps the running schedule.
func (e *Engine) StartMonitoring(m store.TestMetrics) error {
	if m.TestID == "" {
		return store.ErrEmptyTestID
	}

	e.mu.RLock()
	closed := e.closed
	_, known := e.tests[m.TestID]
	e.mu.RUnlock()
	if closed {
		return ErrEngineClosed
	}

	var resumed *store.History
	if !known {
		resumed = e.loadHistory(m.TestID)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	st, ok := e.tests[m.TestID]
	if !ok {
		st = newTestState(resumed, e.cfg.Anomaly.BaselineWindows)
		e.tests[m.TestID] = st
	}
	st.metrics = m.Clone()
	st.seq++
	if !st.active {
		ctx, cancel := context.WithCancel(e.ctx)
		st.active = true
		st.cancel = cancel
		st.reset = make(chan time.Duration, 1)
		e.wg.Add(1)
		go e.run(ctx, m.TestID, e.cfg.MonitoringInterval, st.reset)
	}
	active := e.activeCountLocked()
	e.mu.Unlock()

	e.metrics.SetActiveTests(active)
	e.logger.Info("monitoring started",
		zap.String("test_id", m.TestID),
		zap.Int("variations", len(m.Variations)))
	e.emit(Event{Type: EventMonitoringStarted, TestID: m.TestID, Timestamp: e.now()})
	return nil
}

// newTestState restores a resumed history, replaying its snapshot totals
// into the traffic baseline.
func newTestState(h *store.History, windows int) *testState {
	st := &testState{}
	if h == nil {
		return st
	}
	st.results = h.Results
	st.anomalies = h.Anomalies
	st.analysisCount = len(h.Results)
	if n := len(h.Results); n > 0 {
		last := h.Results[n-1].Timestamp
		st.lastAnalysis = &last
	}

	totals := make([]uint64, 0, len(h.Results))
	for _, r := range h.Results {
		totals = append(totals, resultTotal(r))
	}
	st.baseline = anomaly.Replay(totals, windows)
	return st
}

// resultTotal is the visitor total a result was computed from. Results
// stored without it fall back to the sum over variations.
func resultTotal(r store.AnalysisResult) uint64 {
	if r.TotalVisitors > 0 {
		return r.TotalVisitors
	}
	var total uint64
	for _, v := range r.Variations {
		total += v.Visitors
	}
	return total
}

// StopMonitoring cancels the test's schedule. Its history stays queryable.
// Stopping a test that is not active does nothing.
func (e *Engine) StopMonitoring(testID string) {
	e.mu.Lock()
	st, ok := e.tests[testID]
	if !ok || !st.active {
		e.mu.Unlock()
		return
	}
	st.active = false
	st.cancel()
	active := e.activeCountLocked()
	e.mu.Unlock()

	e.metrics.SetActiveTests(active)
	e.metrics.ForgetTest(testID)
	e.logger.Info("monitoring stopped", zap.String("test_id", testID))
	e.emit(Event{Type: EventMonitoringStopped, TestID: testID, Timestamp: e.now()})
}

// UpdateTestMetrics replaces the stored snapshot of an active test. The next
// pass analyzes it. Unknown or stopped tests are ignored.
func (e *Engine) UpdateTestMetrics(m store.TestMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.tests[m.TestID]
	if !ok || !st.active {
		return
	}
	st.metrics = m.Clone()
	st.seq++
}

// TriggerAnalysis runs one pass now. It returns false without emitting
// analysis_complete when the test is not active or its metrics are invalid.
func (e *Engine) TriggerAnalysis(ctx context.Context, testID string) (*store.AnalysisResult, bool) {
	return e.runPass(ctx, testID)
}

func (e *Engine) run(ctx context.Context, testID string, interval time.Duration, reset <-chan time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-reset:
			ticker.Reset(d)
		case <-ticker.C:
			e.runPass(ctx, testID)
		}
	}
}

func (e *Engine) runPass(ctx context.Context, testID string) (*store.AnalysisResult, bool) {
	e.mu.RLock()
	st, ok := e.tests[testID]
	if !ok || !st.active {
		e.mu.RUnlock()
		return nil, false
	}
	cfg := e.cfg
	snapshot := st.metrics.Clone()
	seq := st.seq
	baseline := st.baseline
	e.mu.RUnlock()

	started := time.Now()
	now := e.now()
	p := pipeline{detector: e.detector, newSource: e.newSource}
	result, alerts, err := p.analyze(cfg, snapshot, baseline, now)
	e.metrics.RecordAnalysis(testID, err == nil, time.Since(started))

	if err != nil {
		e.logger.Warn("analysis failed", zap.String("test_id", testID), zap.Error(err))
		e.emit(Event{Type: EventAnalysisError, TestID: testID, Err: err, Timestamp: now})
		return nil, false
	}

	total, _ := snapshot.Totals()
	e.mu.Lock()
	st.results = append(st.results, *result)
	st.anomalies = append(st.anomalies, result.Anomalies)
	st.alerts = appendBounded(st.alerts, alerts, cfg.Alerts.LogSize)
	if seq > st.baselineSeq {
		st.baseline = st.baseline.Observe(total, cfg.Anomaly.BaselineWindows)
		st.baselineSeq = seq
	}
	st.analysisCount++
	ts := result.Timestamp
	st.lastAnalysis = &ts
	e.mu.Unlock()

	e.persist(ctx, testID)

	e.metrics.SetPValue(testID, result.FrequentistResult.PValue)
	for _, a := range result.Anomalies.Anomalies {
		e.metrics.RecordAnomaly(string(a.Type), a.Severity.String())
	}
	e.logger.Debug("analysis complete",
		zap.String("test_id", testID),
		zap.String("result_id", result.ID),
		zap.Float64("p_value", result.FrequentistResult.PValue),
		zap.Bool("significant", result.FrequentistResult.IsSignificant),
		zap.String("action", string(result.RecommendedAction)),
		zap.String("risk", result.Anomalies.RiskLevel.String()))

	e.emit(Event{Type: EventAnalysisComplete, TestID: testID, Result: result, Timestamp: now})
	for i := range alerts {
		alert := alerts[i]
		e.metrics.RecordAlert(testID, string(alert.AlertType))
		e.logger.Info("alert raised",
			zap.String("test_id", testID),
			zap.String("alert_type", string(alert.AlertType)),
			zap.Any("message", alert.Payload["message"]))
		e.emit(Event{Type: EventAlert, TestID: testID, Result: result, Alert: &alert, Timestamp: now})
	}
	return result, true
}

// appendBounded appends add to log keeping the newest limit entries. A limit
// of zero keeps everything.
func appendBounded(log, add []store.Alert, limit int) []store.Alert {
	log = append(log, add...)
	if limit > 0 && len(log) > limit {
		log = append([]store.Alert(nil), log[len(log)-limit:]...)
	}
	return log
}

func (e *Engine) loadHistory(testID string) *store.History {
	if e.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
	defer cancel()

	h, err := e.store.Get(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		e.metrics.RecordStoreError("get")
		e.logger.Error("failed to load history", zap.String("test_id", testID), zap.Error(err))
		return nil
	}
	e.logger.Info("history resumed",
		zap.String("test_id", testID),
		zap.Int("results", len(h.Results)))
	return h
}

// persist writes the current history of testID to the store. The history is
// read under persistMu so the last write always carries the newest state.
func (e *Engine) persist(ctx context.Context, testID string) {
	if e.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	h, ok := e.historyOf(testID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := e.store.Set(ctx, testID, h); err != nil {
		e.metrics.RecordStoreError("set")
		e.logger.Error("failed to persist history", zap.String("test_id", testID), zap.Error(err))
	}
}

func (e *Engine) historyOf(testID string) (*store.History, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.tests[testID]
	if !ok {
		return nil, false
	}
	m := st.metrics.Clone()
	return &store.History{
		TestID:    testID,
		Metrics:   &m,
		Results:   append([]store.AnalysisResult(nil), st.results...),
		Anomalies: append([]store.AnomalyReport(nil), st.anomalies...),
		UpdatedAt: e.now(),
	}, true
}

// ActiveTests returns the ids of actively monitored tests, sorted.
func (e *Engine) ActiveTests() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.tests))
	for id, st := range e.tests {
		if st.active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MonitoringStatus reports every known test, active or not, sorted by id.
func (e *Engine) MonitoringStatus() []MonitoringStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]MonitoringStatus, 0, len(e.tests))
	for id, st := range e.tests {
		s := MonitoringStatus{
			TestID:        id,
			IsActive:      st.active,
			AnalysisCount: st.analysisCount,
		}
		if st.lastAnalysis != nil {
			ts := *st.lastAnalysis
			s.LastAnalysis = &ts
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestID < out[j].TestID })
	return out
}

// TestResults returns the analysis history of a test, oldest first.
func (e *Engine) TestResults(testID string) []store.AnalysisResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.tests[testID]
	if !ok {
		return []store.AnalysisResult{}
	}
	return append([]store.AnalysisResult{}, st.results...)
}

// AnomalyHistory returns the anomaly report of every pass, oldest first.
func (e *Engine) AnomalyHistory(testID string) []store.AnomalyReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.tests[testID]
	if !ok {
		return []store.AnomalyReport{}
	}
	return append([]store.AnomalyReport{}, st.anomalies...)
}

// Alerts returns the retained alerts of a test, oldest first.
func (e *Engine) Alerts(testID string) []store.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.tests[testID]
	if !ok {
		return []store.Alert{}
	}
	return append([]store.Alert{}, st.alerts...)
}

// TestMetrics returns the last snapshot stored for a test.
func (e *Engine) TestMetrics(testID string) (store.TestMetrics, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.tests[testID]
	if !ok {
		return store.TestMetrics{}, false
	}
	return st.metrics.Clone(), true
}

// Configuration returns the current configuration snapshot.
func (e *Engine) Configuration() config.Monitoring {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfiguration merges p into the configuration. The merged result is
// validated as a whole and nothing changes on error. Running schedules pick
// up a new interval immediately; every other field applies from the next
// pass.
func (e *Engine) UpdateConfiguration(p config.Patch) error {
	e.mu.Lock()
	next, err := e.cfg.Apply(p)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("update configuration: %w", err)
	}
	changes := e.cfg.Diff(next)
	if next.MonitoringInterval != e.cfg.MonitoringInterval {
		for _, st := range e.tests {
			if !st.active {
				continue
			}
			select {
			case <-st.reset:
			default:
			}
			st.reset <- next.MonitoringInterval
		}
	}
	e.cfg = next
	e.mu.Unlock()

	e.logger.Info("configuration updated", zap.Any("changes", changes))
	e.emit(Event{Type: EventConfigUpdated, Config: &next, Changes: &changes, Timestamp: e.now()})
	return nil
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSubID++
	id := e.nextSubID
	e.listeners = append(e.listeners, subscription{id: id, listener: l})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.listeners {
			if s.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit delivers ev to a snapshot of the listeners outside the lock. A
// panicking listener is logged and does not affect the others.
func (e *Engine) emit(ev Event) {
	e.mu.RLock()
	subs := append([]subscription(nil), e.listeners...)
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s.listener, ev)
	}
}

func (e *Engine) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("listener panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	l.OnEvent(ev)
}

// Shutdown stops every schedule and waits for running passes to finish.
// It is safe to call more than once.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var stopped []string
	for id, st := range e.tests {
		if st.active {
			st.active = false
			st.cancel()
			stopped = append(stopped, id)
		}
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.metrics.SetActiveTests(0)

	sort.Strings(stopped)
	now := e.now()
	for _, id := range stopped {
		e.metrics.ForgetTest(id)
		e.emit(Event{Type: EventMonitoringStopped, TestID: id, Timestamp: now})
	}
	e.logger.Info("engine shut down", zap.Int("stopped", len(stopped)))
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, st := range e.tests {
		if st.active {
			n++
		}
	}
	return n
}
