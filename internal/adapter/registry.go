package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultPattern matches every hostname. It must be registered last.
const DefaultPattern = "default"

// ErrUnreachablePattern is returned when a pattern is registered after the default.
var ErrUnreachablePattern = errors.New("pattern registered after default")

type registryEntry struct {
	pattern string
	re      *regexp.Regexp // nil for the default entry
	variant Variant
}

// Registry resolves hostnames to variants by ordered glob matching.
// '*' matches any run of characters; every other character is literal;
// matching is case-insensitive. First match wins.
type Registry struct {
	entries    []registryEntry
	hasDefault bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a pattern.
func (r *Registry) Register(pattern string, v Variant) error {
	if r.hasDefault {
		return fmt.Errorf("%w: %q", ErrUnreachablePattern, pattern)
	}
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == DefaultPattern {
		r.entries = append(r.entries, registryEntry{pattern: pattern, variant: v})
		r.hasDefault = true
		return nil
	}
	if pattern == "" {
		return errors.New("empty pattern")
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	r.entries = append(r.entries, registryEntry{pattern: pattern, re: regexp.MustCompile(expr), variant: v})
	return nil
}

// MustRegister is Register for static tables.
func (r *Registry) MustRegister(pattern string, v Variant) *Registry {
	if err := r.Register(pattern, v); err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the first matching variant. ok is false only when nothing
// matches and no default is registered, which callers must treat as a
// configuration error.
func (r *Registry) Resolve(hostname string) (v Variant, ok bool) {
	host := strings.ToLower(strings.TrimSuffix(hostname, "."))
	for _, e := range r.entries {
		if e.re == nil || e.re.MatchString(host) {
			return e.variant, true
		}
	}
	return "", false
}

// HasDefault reports whether the default pattern is registered.
func (r *Registry) HasDefault() bool { return r.hasDefault }

// Patterns returns the registered patterns in order.
func (r *Registry) Patterns() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.pattern
	}
	return out
}

// DefaultRegistry returns the built-in site table.
func DefaultRegistry() *Registry {
	return NewRegistry().
		MustRegister("youtube.com", VariantYouTube).
		MustRegister("*.youtube.com", VariantYouTube).
		MustRegister("youtu.be", VariantYouTube).
		MustRegister("reddit.com", VariantReddit).
		MustRegister("*.reddit.com", VariantReddit).
		MustRegister("twitter.com", VariantTwitter).
		MustRegister("*.twitter.com", VariantTwitter).
		MustRegister("x.com", VariantTwitter).
		MustRegister("*.x.com", VariantTwitter).
		MustRegister("netflix.com", VariantNetflix).
		MustRegister("*.netflix.com", VariantNetflix).
		MustRegister("medium.com", VariantMedium).
		MustRegister("*.medium.com", VariantMedium).
		MustRegister(DefaultPattern, VariantDefault)
}
