package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/errors"
)

// sseWriter frames server-sent events. Every write flushes so chunks
// reach the client as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New(errors.StreamError, "response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// event writes a named event with a JSON payload.
func (s *sseWriter) event(name string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, encoded); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// text writes an unnamed content event carrying the chunk verbatim.
// Interior newlines become consecutive data lines, which the client
// side reassembles with the same newlines.
func (s *sseWriter) text(chunk string) error {
	var b strings.Builder
	for _, line := range strings.Split(chunk, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
