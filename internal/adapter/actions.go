package adapter

import (
	"strings"

	"github.com/graaaaa/attention-collector/internal/page"
)

// actionRule maps an element to an engagement action. Rules are evaluated in
// order and the first match wins; later rules are not evaluated.
type actionRule struct {
	action string
	match  func(el *page.Element, label string) bool
}

// actionable finds the control a click landed on.
var actionable = page.Or(
	page.ByTag("button", "a"),
	page.ByAttr("role", "button"),
	page.HasAttr("data-testid"),
	page.HasAttr("aria-label"),
	page.HasAttr("data-uia"),
)

// labelHas matches when the lower-cased accessible name contains any of subs.
func labelHas(subs ...string) func(*page.Element, string) bool {
	return func(_ *page.Element, label string) bool {
		for _, s := range subs {
			if strings.Contains(label, s) {
				return true
			}
		}
		return false
	}
}

// attrIs matches an exact attribute value.
func attrIs(name string, values ...string) func(*page.Element, string) bool {
	return func(el *page.Element, _ string) bool {
		v := el.Attr(name)
		for _, want := range values {
			if v == want {
				return true
			}
		}
		return false
	}
}

// attrSuffix matches an attribute ending in suffix.
func attrSuffix(name, suffix string) func(*page.Element, string) bool {
	return func(el *page.Element, _ string) bool {
		v := el.Attr(name)
		return v != "" && strings.HasSuffix(v, suffix)
	}
}

// classifyAction returns the first rule's action that matches the control
// containing el, along with that control.
func classifyAction(rules []actionRule, el *page.Element) (action string, control *page.Element, ok bool) {
	control = el.Closest(actionable)
	if control == nil {
		return "", nil, false
	}
	label := strings.ToLower(control.Label())
	for _, r := range rules {
		if r.match(control, label) {
			return r.action, control, true
		}
	}
	return "", control, false
}

// matchingActions returns every rule that would match, in order. Used to spot
// labels that more than one rule claims.
func matchingActions(rules []actionRule, el *page.Element) []string {
	control := el.Closest(actionable)
	if control == nil {
		return nil
	}
	label := strings.ToLower(control.Label())
	var out []string
	for _, r := range rules {
		if r.match(control, label) {
			out = append(out, r.action)
		}
	}
	return out
}

// hasAttr matches elements carrying the attribute.
func hasAttr(name string) func(*page.Element, string) bool {
	return func(el *page.Element, _ string) bool {
		_, ok := el.Attrs[name]
		return ok
	}
}

// anyOf matches when any of ms matches.
func anyOf(ms ...func(*page.Element, string) bool) func(*page.Element, string) bool {
	return func(el *page.Element, label string) bool {
		for _, m := range ms {
			if m(el, label) {
				return true
			}
		}
		return false
	}
}
