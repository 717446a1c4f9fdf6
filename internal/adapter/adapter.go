// Package adapter translates raw page interactions into site-specific events.
//
// Every site variant implements the same capability set (Adapter). Variants
// form a closed set; the Registry maps hostnames to variants and New builds
// the adapter for a variant.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/graaaaa/attention-collector/internal/event"
	"github.com/graaaaa/attention-collector/internal/page"
	"github.com/graaaaa/attention-collector/internal/timer"
)

// ErrUnknownVariant is returned by New for a variant outside the closed set.
var ErrUnknownVariant = errors.New("unknown adapter variant")

// Adapter is the capability set shared by every site variant.
// The collector serializes all calls, including timer callbacks scheduled
// through Env.AfterFunc.
type Adapter interface {
	Name() string
	Initialize()
	HandleClick(el *page.Element)
	HandleScroll(s page.ScrollState)
	HandleNavigation(from, to string)
	// AttachMedia starts tracking an audio/video element. Attaching the same
	// element twice is a no-op.
	AttachMedia(el *page.Element)
	// Cleanup releases per-session state. It must not panic.
	Cleanup()
}

// Emitter receives adapter events.
type Emitter func(eventType string, category event.Category, data map[string]any)

// Env is what an adapter may use from its host.
type Env struct {
	Page      page.Page
	Emit      Emitter
	Clock     timer.Clock
	AfterFunc timer.AfterFunc
	Logger    *slog.Logger
	// Guard runs callbacks that arrive outside the collector's own calls
	// (media listeners) with the same serialization and panic isolation.
	Guard func(fn func())
}

func (e Env) withDefaults() Env {
	if e.Emit == nil {
		e.Emit = func(string, event.Category, map[string]any) {}
	}
	if e.Clock == nil {
		e.Clock = timer.DefaultClock
	}
	if e.AfterFunc == nil {
		e.AfterFunc = timer.DefaultAfterFunc
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Guard == nil {
		e.Guard = func(fn func()) { fn() }
	}
	return e
}

// Variant identifies one adapter implementation.
type Variant string

// Adapter variants.
const (
	VariantDefault Variant = "default"
	VariantYouTube Variant = "youtube"
	VariantReddit  Variant = "reddit"
	VariantTwitter Variant = "twitter"
	VariantNetflix Variant = "netflix"
	VariantMedium  Variant = "medium"
)

// Variants lists the closed set.
var Variants = []Variant{VariantDefault, VariantYouTube, VariantReddit, VariantTwitter, VariantNetflix, VariantMedium}

// New builds the adapter for v.
func New(v Variant, env Env) (Adapter, error) {
	env = env.withDefaults()
	switch v {
	case VariantDefault:
		return newDefault(env), nil
	case VariantYouTube:
		return newYouTube(env), nil
	case VariantReddit:
		return newReddit(env), nil
	case VariantTwitter:
		return newTwitter(env), nil
	case VariantNetflix:
		return newNetflix(env), nil
	case VariantMedium:
		return newMedium(env), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
}
