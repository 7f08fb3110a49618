package store_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/headline-goat/statwatch/internal/store"
)

func TestVariationMetrics_Rate(t *testing.T) {
	tests := []struct {
		name     string
		v        store.VariationMetrics
		expected float64
	}{
		{"empty arm", store.VariationMetrics{}, 0},
		{"ten percent", store.VariationMetrics{Visitors: 1000, Conversions: 100}, 0.1},
		{"capped", store.VariationMetrics{Visitors: 10, Conversions: 12}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Rate(); got != tt.expected {
				t.Errorf("got %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestTestMetrics_Validate(t *testing.T) {
	valid := store.TestMetrics{
		TestID: "hero",
		Variations: []store.VariationMetrics{
			{VariationID: "a", Visitors: 10, Conversions: 1},
			{VariationID: "b", Visitors: 10, Conversions: 2},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid metrics, got %v", err)
	}

	noID := valid.Clone()
	noID.TestID = ""
	if err := noID.Validate(); !errors.Is(err, store.ErrEmptyTestID) {
		t.Errorf("expected ErrEmptyTestID, got %v", err)
	}

	oneArm := valid.Clone()
	oneArm.Variations = oneArm.Variations[:1]
	if err := oneArm.Validate(); !errors.Is(err, store.ErrTooFewVariations) {
		t.Errorf("expected ErrTooFewVariations, got %v", err)
	}

	overConverted := valid.Clone()
	overConverted.Variations[1].Conversions = 11
	if err := overConverted.Validate(); !errors.Is(err, store.ErrConversionsExceedVisitors) {
		t.Errorf("expected ErrConversionsExceedVisitors, got %v", err)
	}
}

func TestTestMetrics_CloneIsDeep(t *testing.T) {
	revenue := 10.0
	m := store.TestMetrics{
		TestID:     "hero",
		Variations: []store.VariationMetrics{{VariationID: "a", Visitors: 5, Revenue: &revenue}},
	}

	c := m.Clone()
	c.Variations[0].Visitors = 99
	*c.Variations[0].Revenue = 20

	if m.Variations[0].Visitors != 5 {
		t.Errorf("clone shares variations")
	}
	if *m.Variations[0].Revenue != 10 {
		t.Errorf("clone shares revenue")
	}
}

func TestTestMetrics_Totals(t *testing.T) {
	m := store.TestMetrics{
		Variations: []store.VariationMetrics{
			{Visitors: 100, Conversions: 10},
			{Visitors: 200, Conversions: 30},
		},
	}

	visitors, conversions := m.Totals()
	if visitors != 300 || conversions != 40 {
		t.Errorf("got (%d, %d), want (300, 40)", visitors, conversions)
	}

	m.TotalVisitors = 350
	visitors, _ = m.Totals()
	if visitors != 350 {
		t.Errorf("expected explicit total 350, got %d", visitors)
	}
}

func TestSeverity_JSON(t *testing.T) {
	b, err := json.Marshal(store.Anomaly{Type: store.AnomalyTrafficSpike, Severity: store.SeverityCritical})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"type":"traffic_spike","severity":"critical","detail":""}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}

	var s store.Severity
	if err := json.Unmarshal([]byte(`"loud"`), &s); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []store.Severity{store.SeverityLow, store.SeverityMedium, store.SeverityHigh, store.SeverityCritical} {
		parsed, err := store.ParseSeverity(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseSeverity(%q) = %v, %v", s.String(), parsed, err)
		}
	}
}
