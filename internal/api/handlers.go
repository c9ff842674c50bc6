package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/engine"
	"github.com/roamhq/roam-saas-ai/internal/errors"
)

// maxBodyBytes caps request bodies. Histories are the only part that
// grows, and a sanitised history is bounded anyway.
const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst. An empty body decodes to
// the zero value, since several endpoints take all-optional bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(errors.BadRequest, "request body must be a JSON object", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.engine.Explain(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Debug.RequestID = RequestIDFrom(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

// metadataEvent is the first stream frame: everything deterministic,
// so the client can render the trace before prose arrives.
type metadataEvent struct {
	Trace  []core.TraceStep `json:"trace"`
	Config any              `json:"config"`
	Debug  engine.Debug     `json:"debug"`
}

func (s *Server) handleExplainStream(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Failures before the stream opens are ordinary JSON errors.
	p, err := s.engine.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	meta := metadataEvent{
		Trace:  p.Trace,
		Config: p.ConfigPayload(),
		Debug: engine.Debug{
			Intent:    p.Intent,
			Timing:    p.Timing,
			RequestID: RequestIDFrom(r.Context()),
		},
	}
	if err := sse.event("metadata", meta); err != nil {
		s.log.Debug("stream closed before metadata", zap.Error(err))
		return
	}

	contentChan, errorChan := s.engine.Stream(r.Context(), p)
	for chunk := range contentChan {
		if err := sse.text(chunk); err != nil {
			// The client went away; generation stops via the request
			// context.
			s.log.Debug("stream closed mid-answer", zap.Error(err))
			return
		}
	}
	if err := <-errorChan; err != nil {
		s.log.Warn("stream generation failed", zap.Error(err))
		_ = sse.event("error", map[string]string{"error": publicMessage(err)})
		return
	}
	_ = sse.event("done", struct{}{})
}

// publicMessage is the client-safe text of an error.
func publicMessage(err error) string {
	var re *errors.RoamError
	if stderrors.As(err, &re) {
		return re.Message
	}
	return "explanation generation failed"
}

func (s *Server) handleResolveTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Hostname == "" {
		writeError(w, errors.New(errors.BadRequest, "hostname must be a non-empty string"))
		return
	}

	resp := struct {
		Hostname string  `json:"hostname"`
		Tenant   *string `json:"tenant"`
	}{Hostname: req.Hostname}

	tenantID, found, err := s.tenants.Lookup(r.Context(), req.Hostname)
	if err != nil {
		writeError(w, err)
		return
	}
	if found {
		resp.Tenant = &tenantID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshSchema(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tenant string `json:"tenant"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	tenantID, _, err := s.tenants.Resolve(r.Context(), req.Tenant, "")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.schemas.Refresh(r.Context(), tenantID); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("schema cache dropped", zap.String("tenant", tenantID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tenant": tenantID})
}
