package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
)

// maxLineBytes bounds one recorded line; DOM subtrees dominate.
const maxLineBytes = 1 << 20

// JSONLSource reads one Record per line. Blank lines and lines starting
// with '#' are skipped.
type JSONLSource struct {
	r io.Reader
}

// NewJSONLSource creates a source over r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	return &JSONLSource{r: r}
}

// Start implements RecordSource.
func (s *JSONLSource) Start(ctx context.Context) (<-chan Record, <-chan error, error) {
	records := make(chan Record)
	errs := make(chan error)

	go func() {
		defer close(records)
		defer close(errs)

		sc := bufio.NewScanner(s.r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		lineNum := 0
		for sc.Scan() {
			lineNum++
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 || line[0] == '#' {
				continue
			}

			rec, err := parseRecord(line)
			if err != nil {
				select {
				case errs <- &ParseError{Line: string(line), LineNum: lineNum, Err: err}:
				case <-ctx.Done():
					return
				}
				continue
			}
			rec.Line = lineNum

			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
		}
	}()

	return records, errs, nil
}

func parseRecord(line []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}
