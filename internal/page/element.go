// Package page models the browser page boundary: a DOM element tree, media
// element state, and the listener/observer surface the collector attaches to.
package page

import (
	"strings"
)

// Element is a node in the page's element tree.
type Element struct {
	Key      string // stable identity assigned by the page bridge
	Tag      string // lower-case tag name
	ID       string
	Classes  []string
	Attrs    map[string]string
	Text     string
	Value    string  // current value for form fields
	Top      float64 // layout box offset from document top, in px
	Height   float64
	Media    *Media // non-nil for audio/video elements
	Parent   *Element
	Children []*Element
}

// NewElement returns an element with the given tag and attributes.
func NewElement(tag string, attrs map[string]string) *Element {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &Element{Tag: strings.ToLower(tag), Attrs: attrs}
}

// Append adds children and sets their parent pointer. Returns e for chaining.
func (e *Element) Append(children ...*Element) *Element {
	for _, c := range children {
		c.Parent = e
		e.Children = append(e.Children, c)
	}
	return e
}

// Attr returns the attribute value or "".
func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// HasClass reports whether the element carries class c.
func (e *Element) HasClass(c string) bool {
	if e == nil {
		return false
	}
	for _, have := range e.Classes {
		if have == c {
			return true
		}
	}
	return false
}

// IsMedia reports whether the element is an audio or video element.
func (e *Element) IsMedia() bool {
	return e != nil && (e.Tag == "video" || e.Tag == "audio")
}

// Role returns the explicit ARIA role or the implicit role of common tags.
func (e *Element) Role() string {
	if r := e.Attr("role"); r != "" {
		return strings.ToLower(r)
	}
	switch e.Tag {
	case "button":
		return "button"
	case "a":
		if e.Attr("href") != "" {
			return "link"
		}
	case "input":
		switch strings.ToLower(e.Attr("type")) {
		case "button", "submit":
			return "button"
		case "checkbox":
			return "checkbox"
		}
		return "textbox"
	case "textarea":
		return "textbox"
	}
	return ""
}

// Label returns the accessible name: aria-label, then title, then trimmed text.
func (e *Element) Label() string {
	if e == nil {
		return ""
	}
	if l := e.Attr("aria-label"); l != "" {
		return l
	}
	if t := e.Attr("title"); t != "" {
		return t
	}
	return strings.TrimSpace(e.Text)
}

// Signature identifies an element shape without its content, e.g. "button#subscribe.primary".
func (e *Element) Signature() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(e.Tag)
	if e.ID != "" {
		sb.WriteByte('#')
		sb.WriteString(e.ID)
	}
	for i, c := range e.Classes {
		if i == 3 {
			break
		}
		sb.WriteByte('.')
		sb.WriteString(c)
	}
	return sb.String()
}

// Closest returns the nearest element, starting with e itself, that matches m.
func (e *Element) Closest(m Matcher) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		if m(cur) {
			return cur
		}
	}
	return nil
}

// Find returns the first descendant (depth-first, excluding e) that matches m.
func (e *Element) Find(m Matcher) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if m(c) {
			return c
		}
		if found := c.Find(m); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant that matches m, in document order.
func (e *Element) FindAll(m Matcher) []*Element {
	var out []*Element
	e.walk(func(el *Element) {
		if el != e && m(el) {
			out = append(out, el)
		}
	})
	return out
}

// Walk visits e and all descendants in document order.
func (e *Element) Walk(fn func(*Element)) {
	e.walk(fn)
}

func (e *Element) walk(fn func(*Element)) {
	if e == nil {
		return
	}
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

// Matcher selects elements.
type Matcher func(*Element) bool

// ByTag matches any of the given tag names.
func ByTag(tags ...string) Matcher {
	return func(e *Element) bool {
		for _, t := range tags {
			if e.Tag == t {
				return true
			}
		}
		return false
	}
}

// ByClass matches elements carrying class c.
func ByClass(c string) Matcher {
	return func(e *Element) bool { return e.HasClass(c) }
}

// ByID matches the element id.
func ByID(id string) Matcher {
	return func(e *Element) bool { return e.ID == id }
}

// ByAttr matches an exact attribute value.
func ByAttr(name, value string) Matcher {
	return func(e *Element) bool {
		v, ok := e.Attrs[name]
		return ok && v == value
	}
}

// HasAttr matches elements that carry the attribute at all.
func HasAttr(name string) Matcher {
	return func(e *Element) bool {
		_, ok := e.Attrs[name]
		return ok
	}
}

// ByAttrContains matches attributes containing substr.
func ByAttrContains(name, substr string) Matcher {
	return func(e *Element) bool {
		v, ok := e.Attrs[name]
		return ok && strings.Contains(v, substr)
	}
}

// And matches when all matchers match.
func And(ms ...Matcher) Matcher {
	return func(e *Element) bool {
		for _, m := range ms {
			if !m(e) {
				return false
			}
		}
		return true
	}
}

// Or matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return func(e *Element) bool {
		for _, m := range ms {
			if m(e) {
				return true
			}
		}
		return false
	}
}
