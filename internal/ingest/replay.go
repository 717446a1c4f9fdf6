package ingest

import (
	"context"
	"fmt"
	"os"
)

// ReplayFile replays the recording at path into sessions and returns the run
// counters.
func ReplayFile(ctx context.Context, path string, sessions Sessions, opts ...Option) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	ing := New(NewJSONLSource(f), sessions, opts...)
	err = ing.Run(ctx)
	return ing.Stats(), err
}
