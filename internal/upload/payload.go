package upload

import "github.com/graaaaa/attention-collector/internal/event"

// MaxEventsPerRequest caps the events carried by one upload request.
const MaxEventsPerRequest = 500

// Request is the upload body.
type Request struct {
	Address string        `json:"address"`
	Events  []event.Event `json:"events"`
}

// BuildBatches splits events into requests of at most MaxEventsPerRequest events,
// preserving order.
func BuildBatches(address string, events []event.Event) []Request {
	if len(events) == 0 {
		return nil
	}

	var reqs []Request
	for i := 0; i < len(events); i += MaxEventsPerRequest {
		end := min(i+MaxEventsPerRequest, len(events))
		reqs = append(reqs, Request{Address: address, Events: events[i:end]})
	}
	return reqs
}
