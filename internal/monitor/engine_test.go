package monitor

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/statwatch/internal/anomaly"
	"github.com/headline-goat/statwatch/internal/config"
	"github.com/headline-goat/statwatch/internal/metrics"
	"github.com/headline-goat/statwatch/internal/store"
)

func testConfig() config.Monitoring {
	cfg := config.DefaultMonitoring()
	cfg.MonitoringInterval = time.Hour
	cfg.Bayesian.Draws = 2000
	return cfg
}

func seededSource() rand.Source {
	return rand.NewPCG(1, 2)
}

func newTestEngine(t *testing.T, cfg config.Monitoring, opts ...Option) (*Engine, *ChannelListener) {
	t.Helper()
	e, err := New(cfg, append([]Option{WithRandSource(seededSource)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	l := NewChannelListener(256)
	e.Subscribe(l)
	return e, l
}

func snapshot(id string, cv, cc, tv, tc uint64) store.TestMetrics {
	return store.TestMetrics{
		TestID: id,
		Variations: []store.VariationMetrics{
			{VariationID: "control", Visitors: cv, Conversions: cc},
			{VariationID: "treatment", Visitors: tv, Conversions: tc},
		},
	}
}

// drain returns every event currently buffered.
func drain(l *ChannelListener) []Event {
	var out []Event
	for {
		select {
		case e := <-l.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(events []Event, typ EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, l *ChannelListener, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-l.C:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", typ, timeout)
			return Event{}
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultMonitoring()
	cfg.PowerLevel = 0

	_, err := New(cfg)

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStartMonitoring_EmptyID(t *testing.T) {
	e, l := newTestEngine(t, testConfig())

	err := e.StartMonitoring(store.TestMetrics{})

	assert.ErrorIs(t, err, store.ErrEmptyTestID)
	assert.Empty(t, e.ActiveTests())
	assert.Empty(t, drain(l))
}

func TestLifecycle(t *testing.T) {
	e, l := newTestEngine(t, testConfig())

	require.NoError(t, e.StartMonitoring(snapshot("b", 10, 1, 10, 1)))
	require.NoError(t, e.StartMonitoring(snapshot("a", 10, 1, 10, 1)))
	assert.Equal(t, []string{"a", "b"}, e.ActiveTests())

	started := ofType(drain(l), EventMonitoringStarted)
	require.Len(t, started, 2)
	assert.Equal(t, "b", started[0].TestID)

	e.StopMonitoring("a")
	assert.Equal(t, []string{"b"}, e.ActiveTests())
	stopped := ofType(drain(l), EventMonitoringStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "a", stopped[0].TestID)

	// updates after stop are ignored
	e.UpdateTestMetrics(snapshot("a", 500, 50, 500, 60))
	m, ok := e.TestMetrics("a")
	require.True(t, ok)
	assert.Equal(t, uint64(10), m.Variations[0].Visitors)

	// stopping again or stopping an unknown test does nothing
	e.StopMonitoring("a")
	e.StopMonitoring("nope")
	assert.Empty(t, drain(l))

	status := e.MonitoringStatus()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].TestID)
	assert.False(t, status[0].IsActive)
	assert.True(t, status[1].IsActive)
}

func TestStartMonitoring_ReRegistrationReplacesMetrics(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())

	require.NoError(t, e.StartMonitoring(snapshot("hero", 10, 1, 10, 1)))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 20, 2, 20, 2)))

	assert.Equal(t, []string{"hero"}, e.ActiveTests())
	m, ok := e.TestMetrics("hero")
	require.True(t, ok)
	assert.Equal(t, uint64(20), m.Variations[0].Visitors)
}

func TestStartMonitoring_StoresCopy(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	m := snapshot("hero", 10, 1, 10, 1)

	require.NoError(t, e.StartMonitoring(m))
	m.Variations[0].Visitors = 999

	stored, _ := e.TestMetrics("hero")
	assert.Equal(t, uint64(10), stored.Variations[0].Visitors)
}

func TestTriggerAnalysis_UnknownTest(t *testing.T) {
	e, l := newTestEngine(t, testConfig())

	result, ok := e.TriggerAnalysis(context.Background(), "missing")

	assert.Nil(t, result)
	assert.False(t, ok)
	assert.Empty(t, ofType(drain(l), EventAnalysisComplete))
}

func TestTriggerAnalysis_StoppedTest(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))
	e.StopMonitoring("hero")
	drain(l)

	_, ok := e.TriggerAnalysis(context.Background(), "hero")

	assert.False(t, ok)
	assert.Empty(t, drain(l))
}

func TestScenario_ClearWinner(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))

	result, ok := e.TriggerAnalysis(context.Background(), "hero")

	require.True(t, ok)
	assert.True(t, result.FrequentistResult.IsSignificant)
	assert.Less(t, result.FrequentistResult.PValue, 0.05)
	assert.Equal(t, store.ActionStop, result.RecommendedAction)
	require.NotNil(t, result.BayesianResult)
	assert.Greater(t, result.BayesianResult.BayesianProbability, 0.99)
	assert.Len(t, result.Variations, 2)
	assert.Len(t, result.Comparisons, 1)
	assert.NotEmpty(t, result.ID)

	events := drain(l)
	complete := ofType(events, EventAnalysisComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, result.ID, complete[0].Result.ID)
	assert.Empty(t, ofType(events, EventAlert))

	history := e.TestResults("hero")
	require.Len(t, history, 1)
	assert.Equal(t, result.ID, history[0].ID)
	assert.Len(t, e.AnomalyHistory("hero"), 1)

	status := e.MonitoringStatus()
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].AnalysisCount)
	require.NotNil(t, status[0].LastAnalysis)
}

func TestScenario_NoDifference(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	require.NoError(t, e.StartMonitoring(snapshot("hero", 100, 10, 100, 11)))

	result, ok := e.TriggerAnalysis(context.Background(), "hero")

	require.True(t, ok)
	assert.False(t, result.FrequentistResult.IsSignificant)
	assert.Greater(t, result.FrequentistResult.PValue, 0.05)
	assert.Equal(t, store.ActionContinue, result.RecommendedAction)
}

func TestScenario_TrafficSpike(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	ctx := context.Background()
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 100)))

	for _, arm := range []uint64{1000, 2000, 3000} {
		e.UpdateTestMetrics(snapshot("hero", arm, arm/10, arm, arm/10))
		_, ok := e.TriggerAnalysis(ctx, "hero")
		require.True(t, ok)
	}
	drain(l)

	e.UpdateTestMetrics(snapshot("hero", 10000, 1000, 10000, 1200))
	result, ok := e.TriggerAnalysis(ctx, "hero")

	require.True(t, ok)
	require.Len(t, result.Anomalies.Anomalies, 1)
	spike := result.Anomalies.Anomalies[0]
	assert.Equal(t, store.AnomalyTrafficSpike, spike.Type)
	assert.Equal(t, store.SeverityHigh, spike.Severity)

	alerts := ofType(drain(l), EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, store.AlertAnomaly, alerts[0].Alert.AlertType)
	assert.Equal(t, result.ID, alerts[0].Alert.ResultID)
}

func TestScenario_Underpowered(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	require.NoError(t, e.StartMonitoring(snapshot("hero", 20, 2, 20, 2)))

	result, ok := e.TriggerAnalysis(context.Background(), "hero")

	require.True(t, ok)
	assert.Less(t, result.FrequentistResult.PowerAnalysis.CurrentPower, 0.8)

	alerts := ofType(drain(l), EventAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, store.AlertPowerInsufficient, alerts[0].Alert.AlertType)
	assert.Equal(t, result.ID, alerts[0].Result.ID)

	logged := e.Alerts("hero")
	require.Len(t, logged, 1)
	assert.Equal(t, result.ID, logged[0].ResultID)
}

func TestBayesianDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.BayesianEnabled = false
	e, _ := newTestEngine(t, cfg)
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))

	for i := 0; i < 3; i++ {
		result, ok := e.TriggerAnalysis(context.Background(), "hero")
		require.True(t, ok)
		assert.Nil(t, result.BayesianResult)
	}
	for _, r := range e.TestResults("hero") {
		assert.Nil(t, r.BayesianResult)
	}
}

func TestInvalidMetricsEmitAnalysisError(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	bad := snapshot("hero", 10, 20, 10, 1)
	require.NoError(t, e.StartMonitoring(bad))

	result, ok := e.TriggerAnalysis(context.Background(), "hero")

	assert.Nil(t, result)
	assert.False(t, ok)
	events := drain(l)
	assert.Empty(t, ofType(events, EventAnalysisComplete))
	errs := ofType(events, EventAnalysisError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, store.ErrConversionsExceedVisitors)
	assert.Empty(t, e.TestResults("hero"))

	// the test stays active and recovers with valid data
	assert.Equal(t, []string{"hero"}, e.ActiveTests())
	e.UpdateTestMetrics(snapshot("hero", 10, 2, 10, 1))
	_, ok = e.TriggerAnalysis(context.Background(), "hero")
	assert.True(t, ok)
}

func TestSingleVariationIsAnalysisError(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	m := snapshot("hero", 10, 1, 10, 1)
	m.Variations = m.Variations[:1]
	require.NoError(t, e.StartMonitoring(m))

	_, ok := e.TriggerAnalysis(context.Background(), "hero")

	assert.False(t, ok)
	errs := ofType(drain(l), EventAnalysisError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, store.ErrTooFewVariations)
}

func TestPanickingRuleIsRecovered(t *testing.T) {
	boom := func(store.TestMetrics, anomaly.Baseline, config.AnomalyConfig) (store.Anomaly, bool) {
		panic("boom")
	}
	e, l := newTestEngine(t, testConfig(), WithDetector(anomaly.NewDetector(boom)))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 100, 10, 100, 10)))

	_, ok := e.TriggerAnalysis(context.Background(), "hero")

	assert.False(t, ok)
	errs := ofType(drain(l), EventAnalysisError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Err.Error(), "boom")
}

func TestAlertLogIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.LogSize = 2
	e, _ := newTestEngine(t, cfg)
	require.NoError(t, e.StartMonitoring(snapshot("hero", 20, 2, 20, 2)))

	var last *store.AnalysisResult
	for i := 0; i < 3; i++ {
		r, ok := e.TriggerAnalysis(context.Background(), "hero")
		require.True(t, ok)
		last = r
	}

	alerts := e.Alerts("hero")
	require.Len(t, alerts, 2)
	assert.Equal(t, last.ID, alerts[1].ResultID)
}

func TestScheduledTicks(t *testing.T) {
	cfg := testConfig()
	cfg.MonitoringInterval = 10 * time.Millisecond
	e, l := newTestEngine(t, cfg)
	require.NoError(t, e.StartMonitoring(snapshot("hero", 100, 10, 100, 12)))

	ev := waitFor(t, l, EventAnalysisComplete, 2*time.Second)

	assert.Equal(t, "hero", ev.TestID)
	require.NotNil(t, ev.Result)
}

func TestUpdateConfiguration(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	power := 0.9
	bayes := false

	require.NoError(t, e.UpdateConfiguration(config.Patch{PowerLevel: &power, BayesianEnabled: &bayes}))

	assert.Equal(t, 0.9, e.Configuration().PowerLevel)
	updated := ofType(drain(l), EventConfigUpdated)
	require.Len(t, updated, 1)
	require.NotNil(t, updated[0].Changes)
	assert.Equal(t, 0.9, *updated[0].Changes.PowerLevel)
	assert.Nil(t, updated[0].Changes.SignificanceLevel)
	assert.False(t, updated[0].Config.BayesianEnabled)

	// the next pass reads the new snapshot
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))
	result, ok := e.TriggerAnalysis(context.Background(), "hero")
	require.True(t, ok)
	assert.Nil(t, result.BayesianResult)
}

func TestUpdateConfiguration_InvalidChangesNothing(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	before := e.Configuration()
	alpha := 0.0

	err := e.UpdateConfiguration(config.Patch{SignificanceLevel: &alpha})

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, before, e.Configuration())
	assert.Empty(t, drain(l))
}

func TestUpdateConfiguration_IntervalResetsSchedule(t *testing.T) {
	e, l := newTestEngine(t, testConfig())
	require.NoError(t, e.StartMonitoring(snapshot("hero", 100, 10, 100, 12)))
	interval := 10 * time.Millisecond

	require.NoError(t, e.UpdateConfiguration(config.Patch{MonitoringInterval: &interval}))

	waitFor(t, l, EventAnalysisComplete, 2*time.Second)
}

func TestShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.MonitoringInterval = 5 * time.Millisecond
	e, l := newTestEngine(t, cfg)
	require.NoError(t, e.StartMonitoring(snapshot("a", 100, 10, 100, 12)))
	require.NoError(t, e.StartMonitoring(snapshot("b", 100, 10, 100, 12)))
	waitFor(t, l, EventAnalysisComplete, 2*time.Second)
	_, ok := e.TriggerAnalysis(context.Background(), "a")
	require.True(t, ok)

	e.Shutdown()
	e.Shutdown()

	assert.Empty(t, e.ActiveTests())
	assert.ErrorIs(t, e.StartMonitoring(snapshot("c", 1, 0, 1, 0)), ErrEngineClosed)
	assert.NotEmpty(t, e.TestResults("a"))

	// no passes run after shutdown
	drain(l)
	count := len(e.TestResults("a"))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, ofType(drain(l), EventAnalysisComplete))
	assert.Equal(t, count, len(e.TestResults("a")))
}

func TestStoreResumeAndWriteThrough(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	prior := &store.History{
		TestID: "hero",
		Results: []store.AnalysisResult{
			{ID: "old-1", TestID: "hero", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "old-2", TestID: "hero", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		},
		Anomalies: []store.AnomalyReport{{}, {}},
	}
	require.NoError(t, s.Set(ctx, "hero", prior))

	e, _ := newTestEngine(t, testConfig(), WithStore(s))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))

	status := e.MonitoringStatus()
	require.Len(t, status, 1)
	assert.Equal(t, 2, status[0].AnalysisCount)
	require.NotNil(t, status[0].LastAnalysis)
	assert.Equal(t, 2, status[0].LastAnalysis.Day())

	result, ok := e.TriggerAnalysis(ctx, "hero")
	require.True(t, ok)

	saved, err := s.Get(ctx, "hero")
	require.NoError(t, err)
	require.Len(t, saved.Results, 3)
	assert.Equal(t, "old-1", saved.Results[0].ID)
	assert.Equal(t, result.ID, saved.Results[2].ID)
	require.NotNil(t, saved.Metrics)
	assert.Equal(t, uint64(150), saved.Metrics.Variations[1].Conversions)
}

type failingStore struct {
	store.Store
}

func (failingStore) Get(context.Context, string) (*store.History, error) {
	return nil, assert.AnError
}

func (failingStore) Set(context.Context, string, *store.History) error {
	return assert.AnError
}

func TestStoreFailuresDoNotBlockAnalysis(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test_store_failures", reg, nil)
	e, l := newTestEngine(t, testConfig(), WithStore(failingStore{}), WithMetrics(collector))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 150)))

	_, ok := e.TriggerAnalysis(context.Background(), "hero")

	assert.True(t, ok)
	assert.Len(t, ofType(drain(l), EventAnalysisComplete), 1)
	assert.Len(t, e.TestResults("hero"), 1)

	count, err := testutil.GatherAndCount(reg, "test_store_failures_store_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test_engine", reg, nil)
	e, _ := newTestEngine(t, testConfig(), WithMetrics(collector))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 20, 2, 20, 2)))

	_, ok := e.TriggerAnalysis(context.Background(), "hero")
	require.True(t, ok)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_engine_analyses_total"])
	assert.True(t, names["test_engine_alerts_total"])
	assert.True(t, names["test_engine_active_tests"])
}

func TestListeners(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	var mu sync.Mutex
	var seen []EventType
	unsubscribe := e.Subscribe(ListenerFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	}))
	e.Subscribe(ListenerFunc(func(Event) { panic("listener bug") }))

	require.NoError(t, e.StartMonitoring(snapshot("hero", 10, 1, 10, 1)))
	unsubscribe()
	e.StopMonitoring("hero")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventMonitoringStarted}, seen)
}

func TestChannelListener_DropsWhenFull(t *testing.T) {
	l := NewChannelListener(1)

	l.OnEvent(Event{Type: EventAlert})
	l.OnEvent(Event{Type: EventAlert})

	assert.Len(t, l.C, 1)
	assert.Equal(t, uint64(1), l.Dropped())
}

func TestConcurrentAccess(t *testing.T) {
	e, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		require.NoError(t, e.StartMonitoring(snapshot(id, 100, 10, 100, 12)))
	}

	const passes = 10
	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < passes; i++ {
			wg.Add(2)
			go func(id string, i uint64) {
				defer wg.Done()
				e.UpdateTestMetrics(snapshot(id, 100+i, 10, 100+i, 12))
			}(id, uint64(i))
			go func(id string) {
				defer wg.Done()
				_, ok := e.TriggerAnalysis(ctx, id)
				assert.True(t, ok)
			}(id)
		}
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = e.MonitoringStatus()
	}()
	go func() {
		defer wg.Done()
		power := 0.85
		assert.NoError(t, e.UpdateConfiguration(config.Patch{PowerLevel: &power}))
	}()
	wg.Wait()

	for _, id := range ids {
		assert.Len(t, e.TestResults(id), passes)
	}
}

func TestBaselineSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	var last *store.AnalysisResult
	for _, arm := range []uint64{1000, 2000, 3000, 10000} {
		e, err := New(testConfig(), WithStore(s), WithRandSource(seededSource))
		require.NoError(t, err)
		require.NoError(t, e.StartMonitoring(snapshot("hero", arm, arm/10, arm, arm/10+arm/50)))

		r, ok := e.TriggerAnalysis(ctx, "hero")
		require.True(t, ok)
		last = r
		e.Shutdown()
	}

	saved, err := s.Get(ctx, "hero")
	require.NoError(t, err)
	require.Len(t, saved.Results, 4)
	assert.Equal(t, uint64(20000), saved.Results[3].TotalVisitors)

	require.Len(t, last.Anomalies.Anomalies, 1)
	assert.Equal(t, store.AnomalyTrafficSpike, last.Anomalies.Anomalies[0].Type)
	assert.Equal(t, store.SeverityHigh, last.Anomalies.Anomalies[0].Severity)
}

func TestResumedBaselineFromLegacyResults(t *testing.T) {
	s := store.NewMemoryStore()
	legacy := &store.History{TestID: "hero"}
	for _, arm := range []uint64{1000, 2000, 3000} {
		legacy.Results = append(legacy.Results, store.AnalysisResult{
			ID:     "old",
			TestID: "hero",
			Variations: []store.VariationSummary{
				{VariationID: "control", Visitors: arm},
				{VariationID: "treatment", Visitors: arm},
			},
		})
	}
	require.NoError(t, s.Set(context.Background(), "hero", legacy))

	e, _ := newTestEngine(t, testConfig(), WithStore(s))
	require.NoError(t, e.StartMonitoring(snapshot("hero", 10000, 1000, 10000, 1200)))

	e.mu.RLock()
	baseline := e.tests["hero"].baseline
	e.mu.RUnlock()
	assert.Equal(t, []uint64{2000, 2000}, baseline.Windows)
	assert.Equal(t, uint64(6000), baseline.PreviousTotal)
}

func TestStalePassDoesNotRewindBaseline(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	stall := func(m store.TestMetrics, _ anomaly.Baseline, _ config.AnomalyConfig) (store.Anomaly, bool) {
		if total, _ := m.Totals(); total == 4000 {
			once.Do(func() { close(entered) })
			<-release
		}
		return store.Anomaly{}, false
	}
	e, _ := newTestEngine(t, testConfig(), WithDetector(anomaly.NewDetector(stall)))

	require.NoError(t, e.StartMonitoring(snapshot("hero", 1000, 100, 1000, 100)))
	_, ok := e.TriggerAnalysis(ctx, "hero")
	require.True(t, ok)

	e.UpdateTestMetrics(snapshot("hero", 2000, 200, 2000, 200))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := e.TriggerAnalysis(ctx, "hero")
		assert.True(t, ok)
	}()
	<-entered

	e.UpdateTestMetrics(snapshot("hero", 3000, 300, 3000, 300))
	_, ok = e.TriggerAnalysis(ctx, "hero")
	require.True(t, ok)

	close(release)
	<-done

	e.mu.RLock()
	baseline := e.tests["hero"].baseline
	e.mu.RUnlock()
	assert.Equal(t, uint64(6000), baseline.PreviousTotal)
	assert.Equal(t, []uint64{4000}, baseline.Windows)
	assert.Len(t, e.TestResults("hero"), 3)
}
