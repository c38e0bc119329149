package mcpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code contract.ErrorCode, message string, details map[string]any) {
	writeJSON(w, status, contract.Envelope{Error: &contract.Error{Code: code, Message: message, Details: details}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, contract.ErrValidation, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, contract.ErrValidation, "method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Describe()})
}

type invokeRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleInvoke implements POST /mcp: 400 on malformed JSON or a missing
// name, 404 on an unknown tool, and 200 for a successful dispatch
// (spec.md §4.3). A handler failure is answered with an error envelope
// whose status statusForCode picks from the error code: 400 for
// VALIDATION_ERROR, 401 for UNAUTHORIZED, 404 for NOT_FOUND, 409 for
// CONFLICT, and 500 for anything else.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, contract.ErrValidation, "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, contract.ErrValidation, "failed to read request body", nil)
		return
	}

	var req invokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, contract.ErrValidation, "malformed JSON body", nil)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, contract.ErrValidation, "missing tool name", nil)
		return
	}

	if _, ok := s.registry.Get(req.Name); !ok {
		writeError(w, http.StatusNotFound, contract.ErrNotFound, "unknown tool: "+req.Name, nil)
		s.logToolEvent(r, req.Name, "not_found", req.Arguments, nil)
		return
	}

	result, err := s.registry.Invoke(r.Context(), req.Name, req.Arguments)
	if err != nil {
		ce, _ := err.(*contract.Error)
		if ce == nil {
			ce = &contract.Error{Code: contract.ErrInternal, Message: err.Error()}
		}
		status := statusForCode(ce.Code)
		writeJSON(w, status, contract.Envelope{Error: ce})
		s.logToolEvent(r, req.Name, "error", req.Arguments, ce)
		return
	}

	writeJSON(w, http.StatusOK, result)
	s.logToolEvent(r, req.Name, "ok", req.Arguments, nil)
}

func statusForCode(code contract.ErrorCode) int {
	switch code {
	case contract.ErrValidation:
		return http.StatusBadRequest
	case contract.ErrUnauthorized:
		return http.StatusUnauthorized
	case contract.ErrNotFound:
		return http.StatusNotFound
	case contract.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// logToolEvent emits the per-call tool event record spec.md §4.3 requires:
// {timestamp, tool, outcome, arguments (sanitized), request_id, error?}.
// Arguments are decoded into a generic value so the logger's own
// redaction (sensitive key names, bearer/secret patterns) runs over them
// before they reach the sink, rather than being skipped entirely.
func (s *Server) logToolEvent(r *http.Request, tool, outcome string, rawArgs json.RawMessage, err *contract.Error) {
	s.metrics.recordToolOutcome(tool, outcome)

	if s.cfg.Logger == nil {
		return
	}
	var decoded any
	_ = json.Unmarshal(rawArgs, &decoded)

	args := []any{"tool", tool, "outcome", outcome, "arguments", decoded, "request_id", requestID(r)}
	if err != nil {
		args = append(args, "error_code", err.Code, "error", err.Message)
	}
	s.cfg.Logger.Info(r.Context(), "mcp tool call", args...)
}
