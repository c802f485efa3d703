package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"safewatch/internal/metrics"
	"safewatch/internal/models"
	"safewatch/internal/rules"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestEvaluate_FridgeBreach(t *testing.T) {
	e := New(WithClock(fixedClock))

	batch := e.Evaluate(models.Record{"type": "fridge", "temp": "7.5"})

	if len(batch) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(batch), batch)
	}
	if batch[0].Title != rules.TitleFridgeBreach {
		t.Errorf("unexpected title %q", batch[0].Title)
	}
}

func TestEvaluate_NoAlerts(t *testing.T) {
	e := New(WithClock(fixedClock))

	records := []models.Record{
		{},
		nil,
		{"type": "fridge", "temp": "3.9"},
		{"type": "oven", "mode": "hot_hold", "temp": "65"},
		{"type": "allergen", "segregation_ok": true, "labeling_ok": true},
		{"type": "invoice", "date": "2030-01-01"},
		{"type": "unknown", "temp": "100"},
	}

	for _, rec := range records {
		if batch := e.Evaluate(rec); len(batch) != 0 {
			t.Errorf("record %v: expected no alerts, got %+v", rec, batch)
		}
	}
}

func TestEvaluate_CatalogOrder(t *testing.T) {
	// One record that trips two rules: the oven rule fires on type and the
	// invoice rule fires on the presence of a past date.
	e := New(WithClock(fixedClock))

	batch := e.Evaluate(models.Record{
		"type": "oven",
		"mode": "hot_hold",
		"temp": "40",
		"date": "2025-01-01",
	})

	if len(batch) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %+v", len(batch), batch)
	}
	if batch[0].Title != rules.TitleHotHoldUnsafe || batch[1].Title != rules.TitleInvoiceWarning {
		t.Errorf("unexpected order: %q, %q", batch[0].Title, batch[1].Title)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := New(WithClock(fixedClock))
	rec := models.Record{"type": "allergen", "allergen": "sesame", "labeling_ok": false, "date": "2024-01-01"}

	first := e.Evaluate(rec)
	second := e.Evaluate(rec)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluations differ:\n%+v\n%+v", first, second)
	}
	if len(first) != 2 {
		t.Errorf("expected 2 alerts, got %d", len(first))
	}
}

func TestEvaluate_UsesClock(t *testing.T) {
	rec := models.Record{"type": "invoice", "date": "2025-06-15"}

	before := New(WithClock(func() time.Time { return time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC) }))
	if batch := before.Evaluate(rec); len(batch) != 0 {
		t.Errorf("date in the future should not alert, got %+v", batch)
	}

	after := New(WithClock(func() time.Time { return time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC) }))
	if batch := after.Evaluate(rec); len(batch) != 1 {
		t.Errorf("date in the past should alert, got %+v", batch)
	}
}

func TestEvaluate_PanickingRuleIsolated(t *testing.T) {
	panicky := rules.Func{
		RuleName: "panicky",
		Fn: func(models.Record, time.Time) []models.Alert {
			panic("boom")
		},
	}
	catalog := append([]rules.Rule{panicky}, rules.Default()...)
	e := New(WithRules(catalog...), WithClock(fixedClock))

	before := testutil.ToFloat64(metrics.PanicsRecovered.WithLabelValues("rule"))

	batch := e.Evaluate(models.Record{"type": "fridge", "temp": 8})

	if len(batch) != 1 || batch[0].Title != rules.TitleFridgeBreach {
		t.Fatalf("expected the fridge alert to survive, got %+v", batch)
	}
	if got := testutil.ToFloat64(metrics.PanicsRecovered.WithLabelValues("rule")) - before; got != 1 {
		t.Errorf("expected 1 recovered panic, got %v", got)
	}
}

func TestEvaluate_MultiAlertRule(t *testing.T) {
	double := rules.Func{
		RuleName: "double",
		Fn: func(models.Record, time.Time) []models.Alert {
			return []models.Alert{{Title: "a"}, {Title: "b"}}
		},
	}
	e := New(WithRules(double, rules.Func{RuleName: "fridge", Fn: rules.Fridge}), WithClock(fixedClock))

	batch := e.Evaluate(models.Record{"type": "fridge", "temp": 10})

	want := []string{"a", "b", rules.TitleFridgeBreach}
	if len(batch) != len(want) {
		t.Fatalf("expected %d alerts, got %d", len(want), len(batch))
	}
	for i, title := range want {
		if batch[i].Title != title {
			t.Errorf("alert %d: got %q, want %q", i, batch[i].Title, title)
		}
	}
}
