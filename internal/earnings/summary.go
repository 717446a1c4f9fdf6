package earnings

import (
	"github.com/shopspring/decimal"

	"github.com/graaaaa/attention-collector/internal/event"
)

// DisplayDecimals is the number of decimals in formatted amounts.
const DisplayDecimals = 4

// Amount is a monetary value with its display string.
type Amount struct {
	Amount    float64 `json:"amount"`
	Formatted string  `json:"formatted"`
}

// CategoryStats summarises one valuation category.
type CategoryStats struct {
	Count  int    `json:"count"`
	Amount Amount `json:"amount"`
}

// Stats accompanies the totals in a summary.
type Stats struct {
	EventCount        int                        `json:"event_count"`
	TodayCount        int                        `json:"today_count"`
	QualityScore      float64                    `json:"quality_score"`
	QualityMultiplier float64                    `json:"quality_multiplier"`
	Categories        map[Category]CategoryStats `json:"categories"`
}

// Summary is the reward view exposed to the UI layer.
type Summary struct {
	Total Amount `json:"total"`
	Today Amount `json:"today"`
	Stats Stats  `json:"stats"`
}

// Format renders v with the pricing currency symbol.
func (e *Engine) Format(v float64) string {
	return e.pricing.Currency + decimal.NewFromFloat(v).StringFixed(DisplayDecimals)
}

func (e *Engine) amount(v float64) Amount {
	return Amount{Amount: v, Formatted: e.Format(v)}
}

// Summary values events for all time and for today.
func (e *Engine) Summary(events []event.Event) Summary {
	total := e.CalculateTotalEarnings(events)
	today := e.CalculateTodayEarnings(events)

	cats := make(map[Category]CategoryStats, len(total.Breakdown))
	for c, b := range total.Breakdown {
		cats[c] = CategoryStats{Count: b.Count, Amount: e.amount(b.Earnings)}
	}

	return Summary{
		Total: e.amount(total.Total),
		Today: e.amount(today.Total),
		Stats: Stats{
			EventCount:        total.EventCount,
			TodayCount:        today.EventCount,
			QualityScore:      total.QualityScore,
			QualityMultiplier: total.QualityMultiplier,
			Categories:        cats,
		},
	}
}

// ZeroSummary is the summary shown when nothing may be counted.
func (e *Engine) ZeroSummary() Summary {
	return e.Summary(nil)
}
