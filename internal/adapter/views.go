package adapter

import "github.com/graaaaa/attention-collector/internal/page"

// viewTracker finds content units in the viewport and remembers which ones
// were already counted during the session.
type viewTracker struct {
	match page.Matcher
	idOf  func(*page.Element) string
	seen  map[string]struct{}
}

func newViewTracker(match page.Matcher, idOf func(*page.Element) string) *viewTracker {
	return &viewTracker{match: match, idOf: idOf, seen: make(map[string]struct{})}
}

// viewed is a newly visible content unit.
type viewed struct {
	el       *page.Element
	id       string
	position int // index among matching units in document order
}

// Scan returns units in view that were not counted before and marks them counted.
func (v *viewTracker) Scan(doc *page.Element, s page.ScrollState) []viewed {
	var out []viewed
	for i, el := range doc.FindAll(v.match) {
		if !s.InView(el) {
			continue
		}
		id := v.idOf(el)
		if id == "" {
			continue
		}
		if _, dup := v.seen[id]; dup {
			continue
		}
		v.seen[id] = struct{}{}
		out = append(out, viewed{el: el, id: id, position: i})
	}
	return out
}

// Seen reports whether id was already counted.
func (v *viewTracker) Seen(id string) bool {
	_, ok := v.seen[id]
	return ok
}

// Len returns the number of counted units.
func (v *viewTracker) Len() int { return len(v.seen) }

// Reset forgets every counted unit.
func (v *viewTracker) Reset() { v.seen = make(map[string]struct{}) }
