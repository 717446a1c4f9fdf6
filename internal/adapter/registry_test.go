package adapter

import (
	"errors"
	"testing"
)

func TestDefaultRegistry_Resolve(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		host string
		want Variant
	}{
		{"www.youtube.com", VariantYouTube},
		{"youtube.com", VariantYouTube},
		{"M.YOUTUBE.COM", VariantYouTube},
		{"youtu.be", VariantYouTube},
		{"old.reddit.com", VariantReddit},
		{"x.com", VariantTwitter},
		{"mobile.twitter.com", VariantTwitter},
		{"www.netflix.com", VariantNetflix},
		{"blog.medium.com", VariantMedium},
		{"example.org", VariantDefault},
		{"notyoutube.com", VariantDefault},
		{"", VariantDefault},
	}
	for _, tt := range tests {
		got, ok := r.Resolve(tt.host)
		if !ok {
			t.Fatalf("Resolve(%q) not ok", tt.host)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestRegistry_FirstMatchWins(t *testing.T) {
	r := NewRegistry().
		MustRegister("*.example.com", VariantMedium).
		MustRegister("news.example.com", VariantReddit).
		MustRegister(DefaultPattern, VariantDefault)

	got, _ := r.Resolve("news.example.com")
	if got != VariantMedium {
		t.Errorf("got %q, want %q", got, VariantMedium)
	}
}

func TestRegistry_PatternAfterDefault(t *testing.T) {
	r := NewRegistry().MustRegister(DefaultPattern, VariantDefault)
	err := r.Register("example.com", VariantReddit)
	if !errors.Is(err, ErrUnreachablePattern) {
		t.Fatalf("err = %v, want ErrUnreachablePattern", err)
	}
	if got := r.Patterns(); len(got) != 1 {
		t.Errorf("patterns = %v, want only default", got)
	}
}

func TestRegistry_NoDefault(t *testing.T) {
	r := NewRegistry().MustRegister("example.com", VariantReddit)
	if r.HasDefault() {
		t.Fatal("HasDefault = true")
	}
	if _, ok := r.Resolve("other.org"); ok {
		t.Error("Resolve ok without a match or default")
	}
}

func TestRegistry_LiteralDots(t *testing.T) {
	r := NewRegistry().MustRegister("a.com", VariantReddit)
	if _, ok := r.Resolve("abcom"); ok {
		t.Error("dot matched an arbitrary character")
	}
}

func TestNew_UnknownVariant(t *testing.T) {
	if _, err := New("myspace", Env{}); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("err = %v, want ErrUnknownVariant", err)
	}
	for _, v := range Variants {
		a, err := New(v, Env{})
		if err != nil {
			t.Fatalf("New(%q): %v", v, err)
		}
		if a.Name() != string(v) {
			t.Errorf("Name() = %q, want %q", a.Name(), v)
		}
	}
}
