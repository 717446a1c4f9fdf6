package page

import "sort"

// Milestones tracks upward crossings of fixed percentage marks. Each mark
// fires at most once until Reset.
type Milestones struct {
	marks   []int
	crossed map[int]bool
}

// NewMilestones returns a tracker for marks, e.g. 25, 50, 75, 100.
func NewMilestones(marks ...int) *Milestones {
	m := append([]int(nil), marks...)
	sort.Ints(m)
	return &Milestones{marks: m, crossed: make(map[int]bool)}
}

// Observe returns the marks reached by pct that had not fired before, ascending.
func (m *Milestones) Observe(pct float64) []int {
	var out []int
	for _, mark := range m.marks {
		if float64(mark) > pct {
			break
		}
		if !m.crossed[mark] {
			m.crossed[mark] = true
			out = append(out, mark)
		}
	}
	return out
}

// Reached reports whether mark has fired.
func (m *Milestones) Reached(mark int) bool { return m.crossed[mark] }

// Reset forgets every crossing.
func (m *Milestones) Reset() { m.crossed = make(map[int]bool) }
