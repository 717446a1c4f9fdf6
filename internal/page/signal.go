package page

import (
	"fmt"
	"strings"
)

// Signal kinds accepted by Virtual.Apply.
const (
	SignalDOM      = "dom"
	SignalAttrs    = "attrs"
	SignalClick    = "click"
	SignalScroll   = "scroll"
	SignalInput    = "input"
	SignalMedia    = "media"
	SignalNavigate = "navigate"
	SignalUnload   = "unload"
)

// Signal is one raw page interaction as sent by the browser bridge.
type Signal struct {
	Kind           string            `json:"kind"`
	Key            string            `json:"key,omitempty"`
	Parent         string            `json:"parent,omitempty"`
	Node           *NodeSpec         `json:"node,omitempty"`
	Attrs          map[string]string `json:"attrs,omitempty"`
	Classes        []string          `json:"classes,omitempty"`
	Value          string            `json:"value,omitempty"`
	Y              float64           `json:"y,omitempty"`
	DocumentHeight float64           `json:"document_height,omitempty"`
	URL            string            `json:"url,omitempty"`
	Title          string            `json:"title,omitempty"`
	Media          *MediaSignal      `json:"media,omitempty"`
}

// MediaSignal carries a media event and the element state after it.
type MediaSignal struct {
	Event MediaEventKind `json:"event"`
	MediaState
}

// NodeSpec is the serialised form of an element subtree.
type NodeSpec struct {
	Key      string            `json:"key"`
	Tag      string            `json:"tag"`
	ID       string            `json:"id,omitempty"`
	Classes  []string          `json:"classes,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Value    string            `json:"value,omitempty"`
	Top      float64           `json:"top,omitempty"`
	Height   float64           `json:"height,omitempty"`
	Media    *MediaState       `json:"media,omitempty"`
	Children []NodeSpec        `json:"children,omitempty"`
}

// Build converts the node description into an element tree.
func (n NodeSpec) Build() *Element {
	el := NewElement(n.Tag, nil)
	el.Key = n.Key
	el.ID = n.ID
	el.Classes = append([]string(nil), n.Classes...)
	for k, v := range n.Attrs {
		el.Attrs[k] = v
	}
	el.Text = n.Text
	el.Value = n.Value
	el.Top = n.Top
	el.Height = n.Height
	if n.Media != nil {
		el.Media = NewMedia(*n.Media)
	} else if el.IsMedia() {
		el.Media = NewMedia(MediaState{Paused: true})
	}
	for _, c := range n.Children {
		el.Append(c.Build())
	}
	return el
}

// Apply replays a signal against the page.
func (v *Virtual) Apply(sig Signal) error {
	switch strings.ToLower(sig.Kind) {
	case SignalDOM:
		if sig.Node == nil {
			return fmt.Errorf("dom signal: node is required")
		}
		return v.AddNode(sig.Parent, sig.Node.Build())
	case SignalAttrs:
		return v.SetAttrs(sig.Key, sig.Attrs, sig.Classes)
	case SignalClick:
		return v.Click(sig.Key)
	case SignalScroll:
		v.ScrollTo(sig.Y, sig.DocumentHeight)
		return nil
	case SignalInput:
		return v.Input(sig.Key, sig.Value)
	case SignalMedia:
		if sig.Media == nil {
			return fmt.Errorf("media signal: media is required")
		}
		return v.MediaEvent(sig.Key, sig.Media.Event, sig.Media.MediaState)
	case SignalNavigate:
		if sig.URL == "" {
			return fmt.Errorf("navigate signal: url is required")
		}
		v.Navigate(sig.URL, sig.Title)
		return nil
	case SignalUnload:
		v.Unload()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Kind)
	}
}
