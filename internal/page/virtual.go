package page

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for the page package.
var (
	// ErrUnknownNode is returned when a signal references a node key that was never added.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownSignal is returned for an unrecognised signal kind.
	ErrUnknownSignal = errors.New("unknown signal kind")
)

// Virtual is an in-memory page mirror driven by explicit operations.
// It is safe for concurrent use.
type Virtual struct {
	mu        sync.Mutex
	url       string
	title     string
	userAgent string
	viewport  Viewport
	scroll    ScrollState
	root      *Element
	index     map[string]*Element

	clicks   listenerSet[func(*Element)]
	scrolls  listenerSet[func(ScrollState)]
	inputs   listenerSet[func(*Element)]
	unloads  listenerSet[func()]
	added    listenerSet[func(*Element)]
	urlMoves listenerSet[func(from, to string)]
}

// VirtualOption configures a Virtual page.
type VirtualOption func(*Virtual)

// WithTitle sets the initial document title.
func WithTitle(title string) VirtualOption {
	return func(v *Virtual) { v.title = title }
}

// WithUserAgent sets the user agent string.
func WithUserAgent(ua string) VirtualOption {
	return func(v *Virtual) { v.userAgent = ua }
}

// WithViewport sets the viewport size.
func WithViewport(w, h int) VirtualOption {
	return func(v *Virtual) {
		v.viewport = Viewport{Width: w, Height: h}
		v.scroll.ViewportHeight = float64(h)
	}
}

// NewVirtual creates a page at rawURL with an empty body.
func NewVirtual(rawURL string, opts ...VirtualOption) *Virtual {
	root := NewElement("body", nil)
	root.Key = "body"
	v := &Virtual{
		url:      rawURL,
		viewport: Viewport{Width: 1280, Height: 800},
		scroll:   ScrollState{ViewportHeight: 800},
		root:     root,
		index:    map[string]*Element{"body": root},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// URL implements Page.
func (v *Virtual) URL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.url
}

// Title implements Page.
func (v *Virtual) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.title
}

// UserAgent implements Page.
func (v *Virtual) UserAgent() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userAgent
}

// Viewport implements Page.
func (v *Virtual) Viewport() Viewport {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewport
}

// Scroll implements Page.
func (v *Virtual) Scroll() ScrollState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scroll
}

// Document implements Page.
func (v *Virtual) Document() *Element {
	return v.root
}

// OnClick implements Page.
func (v *Virtual) OnClick(fn func(*Element)) func() { return v.clicks.add(fn) }

// OnScroll implements Page.
func (v *Virtual) OnScroll(fn func(ScrollState)) func() { return v.scrolls.add(fn) }

// OnInput implements Page.
func (v *Virtual) OnInput(fn func(*Element)) func() { return v.inputs.add(fn) }

// OnUnload implements Page.
func (v *Virtual) OnUnload(fn func()) func() { return v.unloads.add(fn) }

// Observer implements Page.
func (v *Virtual) Observer() Observer { return virtualObserver{v} }

type virtualObserver struct{ v *Virtual }

func (o virtualObserver) OnNodeAdded(fn func(*Element)) func() { return o.v.added.add(fn) }

func (o virtualObserver) OnURLChanged(fn func(from, to string)) func() {
	return o.v.urlMoves.add(fn)
}

// ListenerCount returns the number of page-level listeners still registered.
func (v *Virtual) ListenerCount() int {
	return v.clicks.len() + v.scrolls.len() + v.inputs.len() + v.unloads.len() +
		v.added.len() + v.urlMoves.len()
}

// Node returns the element registered under key.
func (v *Virtual) Node(key string) (*Element, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.index[key]
	return e, ok
}

// AddNode attaches el (and its subtree) under parentKey and notifies node-added observers.
// An empty parentKey attaches to the body.
func (v *Virtual) AddNode(parentKey string, el *Element) error {
	if parentKey == "" {
		parentKey = v.root.Key
	}
	v.mu.Lock()
	parent, ok := v.index[parentKey]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("%w: parent %q", ErrUnknownNode, parentKey)
	}
	parent.Append(el)
	el.Walk(func(n *Element) {
		if n.Key != "" {
			v.index[n.Key] = n
		}
	})
	v.mu.Unlock()

	for _, fn := range v.added.snapshot() {
		fn(el)
	}
	return nil
}

// SetAttrs merges attributes into the node and, when classes is non-nil, replaces its classes.
func (v *Virtual) SetAttrs(key string, attrs map[string]string, classes []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	el, ok := v.index[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, key)
	}
	if el.Attrs == nil {
		el.Attrs = make(map[string]string)
	}
	for k, val := range attrs {
		el.Attrs[k] = val
	}
	if classes != nil {
		el.Classes = append([]string(nil), classes...)
	}
	return nil
}

// Click dispatches a click on the node to click listeners.
func (v *Virtual) Click(key string) error {
	el, ok := v.Node(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, key)
	}
	v.ClickElement(el)
	return nil
}

// ClickElement dispatches a click on el.
func (v *Virtual) ClickElement(el *Element) {
	for _, fn := range v.clicks.snapshot() {
		fn(el)
	}
}

// ScrollTo updates the scroll position and notifies scroll listeners.
// A non-positive documentHeight keeps the previous height.
func (v *Virtual) ScrollTo(y, documentHeight float64) {
	v.mu.Lock()
	v.scroll.Y = y
	if documentHeight > 0 {
		v.scroll.DocumentHeight = documentHeight
	}
	s := v.scroll
	v.mu.Unlock()

	for _, fn := range v.scrolls.snapshot() {
		fn(s)
	}
}

// Input stores a form value and notifies input listeners.
func (v *Virtual) Input(key, value string) error {
	v.mu.Lock()
	el, ok := v.index[key]
	if ok {
		el.Value = value
	}
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, key)
	}
	for _, fn := range v.inputs.snapshot() {
		fn(el)
	}
	return nil
}

// MediaEvent dispatches a media lifecycle event on the node.
func (v *Virtual) MediaEvent(key string, kind MediaEventKind, state MediaState) error {
	v.mu.Lock()
	el, ok := v.index[key]
	if ok && el.Media == nil {
		el.Media = NewMedia(state)
	}
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, key)
	}
	el.Media.Dispatch(kind, state)
	return nil
}

// Navigate changes the URL in place (SPA route change) and notifies observers.
func (v *Virtual) Navigate(rawURL, title string) {
	v.mu.Lock()
	from := v.url
	v.url = rawURL
	if title != "" {
		v.title = title
	}
	v.scroll.Y = 0
	v.mu.Unlock()

	if from == rawURL {
		return
	}
	for _, fn := range v.urlMoves.snapshot() {
		fn(from, rawURL)
	}
}

// SetURLSilently changes the URL without notifying observers, as history
// manipulation that bypasses events does in a browser.
func (v *Virtual) SetURLSilently(rawURL string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.url = rawURL
}

// Unload notifies unload listeners.
func (v *Virtual) Unload() {
	for _, fn := range v.unloads.snapshot() {
		fn()
	}
}
