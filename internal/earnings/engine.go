package earnings

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/timer"
)

// Precision is the number of decimals kept in reported amounts.
const Precision = 6

// EventEarning is the valuation of one event.
type EventEarning struct {
	Type          string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	Earnings      float64   `json:"earnings"`
	Depth         float64   `json:"depth_multiplier"`
	Market        float64   `json:"market_multiplier"`
	Freshness     float64   `json:"freshness_multiplier"`
	Breadth       float64   `json:"breadth_score"`
	QualityPoints float64   `json:"quality_points"`
}

// CategoryBreakdown aggregates the events of one valuation category.
type CategoryBreakdown struct {
	Count    int            `json:"count"`
	Earnings float64        `json:"earnings"`
	Events   []EventEarning `json:"events"`
}

// Result is the valuation of an event collection.
type Result struct {
	Total             float64                         `json:"total"`
	Breakdown         map[Category]*CategoryBreakdown `json:"breakdown"`
	QualityScore      float64                         `json:"quality_score"`
	QualityMultiplier float64                         `json:"quality_multiplier"`
	EventCount        int                             `json:"event_count"`
}

// Engine computes earnings. It holds no session state and is safe for
// concurrent use.
type Engine struct {
	pricing Pricing
	clock   timer.Clock
	loc     *time.Location
	classes map[string]Category
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for freshness and "today".
func WithClock(c timer.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocation sets the zone for hour-of-day, weekday and calendar-day decisions.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine validates pricing and returns an engine.
func NewEngine(p Pricing, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		pricing: p,
		clock:   timer.DefaultClock,
		loc:     time.Local,
		classes: make(map[string]Category),
	}
	for _, c := range Categories {
		for _, typ := range p.EventTypes[c] {
			e.classes[typ] = c
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Pricing returns the engine's pricing model.
func (e *Engine) Pricing() Pricing { return e.pricing }

// Classify returns the valuation category of an event type. Unlisted types are passive.
func (e *Engine) Classify(eventType string) Category {
	if c, ok := e.classes[eventType]; ok {
		return c
	}
	return Passive
}

// CalculateTotalEarnings values every event in events.
func (e *Engine) CalculateTotalEarnings(events []event.Event) Result {
	return e.calculate(events, e.clock.Now())
}

// CalculateTodayEarnings values the events captured on the current calendar day.
// Windows (depth, breadth) only see same-day events.
func (e *Engine) CalculateTodayEarnings(events []event.Event) Result {
	now := e.clock.Now()
	y, m, d := now.In(e.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.loc)
	end := start.AddDate(0, 0, 1)

	today := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Timestamp.Before(start) && ev.Timestamp.Before(end) {
			today = append(today, ev)
		}
	}
	return e.calculate(today, now)
}

func (e *Engine) calculate(events []event.Event, now time.Time) Result {
	res := Result{Breakdown: make(map[Category]*CategoryBreakdown)}
	if len(events) == 0 {
		return res
	}

	w := newWindows(events)
	sums := make(map[Category]decimal.Decimal)
	var qualityPoints float64

	for i := range events {
		ev := &events[i]
		cat := e.Classify(ev.Type)

		depth := e.depthMultiplier(ev, w.sessionCount(i, e.pricing.DepthWindow))
		market := e.marketMultiplier(ev)
		fresh := e.freshnessMultiplier(ev, now)
		types, count := w.breadth(i, e.pricing.Breadth.Window)
		breadth := e.breadthScore(types, count)

		amount := e.pricing.BaseValues[cat] * depth * market * fresh * breadth
		if amount < e.pricing.FloorPerEvent {
			amount = e.pricing.FloorPerEvent
		}
		if amount < 0 {
			amount = 0
		}

		q := e.pricing.Quality
		points := q.Depth.Points(depth) + q.Market.Points(market) +
			q.Freshness.Points(fresh) + q.Breadth.Points(breadth)
		qualityPoints += points

		b := res.Breakdown[cat]
		if b == nil {
			b = &CategoryBreakdown{}
			res.Breakdown[cat] = b
		}
		b.Count++
		b.Events = append(b.Events, EventEarning{
			Type:          ev.Type,
			Timestamp:     ev.Timestamp,
			Earnings:      amount,
			Depth:         depth,
			Market:        market,
			Freshness:     fresh,
			Breadth:       breadth,
			QualityPoints: points,
		})
		sums[cat] = sums[cat].Add(decimal.NewFromFloat(amount))
	}

	total := decimal.Zero
	for cat, b := range res.Breakdown {
		b.Earnings = sums[cat].Round(Precision).InexactFloat64()
		total = total.Add(sums[cat])
	}

	res.EventCount = len(events)
	res.QualityScore = qualityPoints / (10 * float64(len(events)))
	res.QualityMultiplier = e.pricing.Quality.Tiers.Lookup(res.QualityScore)
	res.Total = total.Mul(decimal.NewFromFloat(res.QualityMultiplier)).Round(Precision).InexactFloat64()
	return res
}

func (e *Engine) isVideo(typ string) bool {
	for _, p := range e.pricing.VideoTypePrefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

func (e *Engine) isSearch(typ string) bool {
	for _, t := range e.pricing.SearchTypes {
		if typ == t {
			return true
		}
	}
	return false
}

func (e *Engine) depthMultiplier(ev *event.Event, sessionCount int) float64 {
	switch {
	case e.isVideo(ev.Type):
		d, _ := ev.Float("duration")
		return e.pricing.VideoDuration.Lookup(d)
	case e.isSearch(ev.Type):
		return e.pricing.SearchTokens.Lookup(float64(len(strings.Fields(ev.String("query")))))
	default:
		return e.pricing.SessionDepth.Lookup(float64(sessionCount))
	}
}

func (e *Engine) marketMultiplier(ev *event.Event) float64 {
	m := e.pricing.Market
	t := ev.Timestamp.In(e.loc)

	hourFactor := m.OffPeakFactor
	h := t.Hour()
	switch {
	case inAny(m.PeakHours, h):
		hourFactor = m.PeakFactor
	case m.NightHours.Contains(h):
		hourFactor = m.NightFactor
	}

	dayFactor := m.WeekdayFactor
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		dayFactor = m.WeekendFactor
	}

	content := m.DefaultContent
	if f, ok := m.ContentFactors[ev.String("content_category")]; ok {
		content = f
	}
	return hourFactor * dayFactor * content
}

func inAny(ranges []HourRange, h int) bool {
	for _, r := range ranges {
		if r.Contains(h) {
			return true
		}
	}
	return false
}

func (e *Engine) freshnessMultiplier(ev *event.Event, now time.Time) float64 {
	age := now.Sub(ev.Timestamp)
	if age < 0 {
		age = 0
	}
	for _, band := range e.pricing.Freshness {
		if age < band.Under {
			return band.Multiplier
		}
	}
	return e.pricing.StaleFactor
}

func (e *Engine) breadthScore(uniqueTypes, count int) float64 {
	b := e.pricing.Breadth
	return b.Base +
		b.TypeWeight*min(float64(uniqueTypes)/b.TypeSaturation, 1) +
		b.VolumeWeight*min(float64(count)/b.VolumeSaturation, 1)
}

// windows answers trailing-window questions for each event: how many events of
// the same session, and how many events and distinct types overall, fall in
// [ts-window, ts].
type windows struct {
	events   []event.Event
	order    []int // indices sorted by timestamp
	sessions map[string][]time.Time
}

func newWindows(events []event.Event) *windows {
	w := &windows{
		events:   events,
		order:    make([]int, len(events)),
		sessions: make(map[string][]time.Time),
	}
	for i := range events {
		w.order[i] = i
	}
	sort.SliceStable(w.order, func(a, b int) bool {
		return events[w.order[a]].Timestamp.Before(events[w.order[b]].Timestamp)
	})
	for _, i := range w.order {
		sid := events[i].SessionID
		w.sessions[sid] = append(w.sessions[sid], events[i].Timestamp)
	}
	return w
}

// sessionCount counts same-session events in [ts-window, ts], including i.
func (w *windows) sessionCount(i int, window time.Duration) int {
	ts := w.events[i].Timestamp
	times := w.sessions[w.events[i].SessionID]
	lo := sort.Search(len(times), func(k int) bool { return !times[k].Before(ts.Add(-window)) })
	hi := sort.Search(len(times), func(k int) bool { return times[k].After(ts) })
	return hi - lo
}

// breadth returns distinct types and event count in [ts-window, ts] across all sessions.
func (w *windows) breadth(i int, window time.Duration) (uniqueTypes, count int) {
	ts := w.events[i].Timestamp
	n := len(w.order)
	at := func(k int) time.Time { return w.events[w.order[k]].Timestamp }
	lo := sort.Search(n, func(k int) bool { return !at(k).Before(ts.Add(-window)) })
	hi := sort.Search(n, func(k int) bool { return at(k).After(ts) })

	seen := make(map[string]struct{})
	for k := lo; k < hi; k++ {
		seen[w.events[w.order[k]].Type] = struct{}{}
	}
	return len(seen), hi - lo
}
