package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCategory_Valid(t *testing.T) {
	for _, c := range Categories {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	if Category("telemetry").Valid() {
		t.Error("unknown category should be invalid")
	}
}

func TestEvent_JSONFieldNames(t *testing.T) {
	e := Event{
		Type:      TypeVideoPlay,
		Category:  CategoryMedia,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID: "abc-123",
		PageURL:   "https://www.youtube.com/watch?v=x",
		Site:      "www.youtube.com",
		Adapter:   "youtube",
		Data:      map[string]any{"video_id": "x"},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"event_type"`, `"category"`, `"timestamp"`, `"session_id"`, `"page_url"`, `"site"`, `"adapter"`, `"data"`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("json %s missing field %s", b, field)
		}
	}
}

func TestEvent_FloatAfterRoundTrip(t *testing.T) {
	e := Event{Data: map[string]any{"duration": 901, "label": "x"}}
	b, _ := json.Marshal(e)

	var back Event
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := back.Float("duration")
	if !ok || got != 901 {
		t.Errorf("Float(duration) = %v, %v; want 901, true", got, ok)
	}
	if _, ok := back.Float("label"); ok {
		t.Error("non-numeric string should not parse")
	}
	if _, ok := back.Float("missing"); ok {
		t.Error("missing key should report false")
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID(now)
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
		if !strings.Contains(id, "-") {
			t.Errorf("session id %q missing separator", id)
		}
	}
}
