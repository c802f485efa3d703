// Package rules holds the compliance rule catalog. Each rule is a pure
// mapping from a record to zero or more alerts and knows nothing about the
// other rules or about delivery.
package rules

import (
	"fmt"
	"strconv"
	"time"

	"safewatch/internal/models"
)

// Thresholds in degrees Celsius
const (
	FridgeMaxTemp  = 4.0
	HotHoldMinTemp = 60.0
)

// Alert titles
const (
	TitleFridgeBreach   = "Fridge temperature breach"
	TitleHotHoldUnsafe  = "Oven hot-hold unsafe"
	TitleAllergenIssue  = "Allergen handling issue"
	TitleInvoiceWarning = "Invoice date warning"
)

// Rule evaluates one record. now is the evaluation instant; rules that do
// not depend on time ignore it.
type Rule interface {
	Name() string
	Evaluate(rec models.Record, now time.Time) []models.Alert
}

// Func adapts a function into a Rule
type Func struct {
	RuleName string
	Fn       func(rec models.Record, now time.Time) []models.Alert
}

func (f Func) Name() string { return f.RuleName }

func (f Func) Evaluate(rec models.Record, now time.Time) []models.Alert {
	return f.Fn(rec, now)
}

// Default returns the catalog in declaration order: fridge, oven,
// allergen, invoice.
func Default() []Rule {
	return []Rule{
		Func{RuleName: "fridge", Fn: Fridge},
		Func{RuleName: "oven_hot_hold", Fn: HotHold},
		Func{RuleName: "allergen", Fn: Allergen},
		Func{RuleName: "invoice_date", Fn: InvoiceDate},
	}
}

// Fridge flags a fridge reading above FridgeMaxTemp. An unreadable
// temperature raises nothing.
func Fridge(rec models.Record, _ time.Time) []models.Alert {
	if rec.Type() != models.TypeFridge {
		return nil
	}
	temp, ok := rec.Float("temp")
	if !ok || temp <= FridgeMaxTemp {
		return nil
	}
	return []models.Alert{{
		Title: TitleFridgeBreach,
		Body: fmt.Sprintf("Fridge recorded %s°C (over 4°C). Immediate action required.",
			strconv.FormatFloat(temp, 'f', -1, 64)),
	}}
}

// HotHold flags a hot-hold oven reading below HotHoldMinTemp. An
// unreadable temperature is treated as unsafe.
func HotHold(rec models.Record, _ time.Time) []models.Alert {
	if rec.Type() != models.TypeOven {
		return nil
	}
	if mode, _ := rec["mode"].(string); mode != "hot_hold" {
		return nil
	}
	if temp, ok := rec.Float("temp"); ok && temp >= HotHoldMinTemp {
		return nil
	}

	raw := "N/A"
	if rec.Has("temp") {
		raw = rec.String("temp")
	}
	return []models.Alert{{
		Title: TitleHotHoldUnsafe,
		Body:  fmt.Sprintf("Oven hot-hold temperature %s°C is below 60°C.", raw),
	}}
}

// Allergen flags a checklist reporting cross-contamination risk or failed
// segregation or labelling. Only real booleans count.
func Allergen(rec models.Record, _ time.Time) []models.Alert {
	if rec.Type() != models.TypeAllergen {
		return nil
	}

	crossContam, _ := rec.Bool("cross_contam_risk")
	segregationOK, segregationSet := rec.Bool("segregation_ok")
	labelingOK, labelingSet := rec.Bool("labeling_ok")

	if !crossContam && !(segregationSet && !segregationOK) && !(labelingSet && !labelingOK) {
		return nil
	}

	allergen := "an allergen"
	if rec.Has("allergen") {
		allergen = rec.String("allergen")
	}
	return []models.Alert{{
		Title: TitleAllergenIssue,
		Body:  fmt.Sprintf("Potential issue for %s detected. Check segregation & labeling.", allergen),
	}}
}

// InvoiceDate flags an invoice or supplier record whose date is strictly
// before now. Unparsable dates raise nothing.
func InvoiceDate(rec models.Record, now time.Time) []models.Alert {
	if rec.Type() != models.TypeInvoice && !rec.Has("supplier") && !rec.Has("date") {
		return nil
	}
	raw := rec.String("date")
	if raw == "" {
		return nil
	}
	d, ok := rec.Time("date")
	if !ok || !d.Before(now) {
		return nil
	}
	return []models.Alert{{
		Title: TitleInvoiceWarning,
		Body:  fmt.Sprintf("Invoice or ingredient date %s appears to be in the past; check expiry.", raw),
	}}
}
