package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
)

// recordCommand stores an audit entry for a command issued over the API.
// Storage failures are logged and never fail the request.
func (s *Server) recordCommand(r *http.Request, e audit.Entry, cmdErr error) {
	if s.audit == nil {
		return
	}
	e.Source = audit.SourceAPI
	e.Subject = subjectFrom(r.Context())
	e.SetResult(cmdErr)

	// The request context may already be cancelled by a timeout.
	if err := s.audit.Create(context.WithoutCancel(r.Context()), &e); err != nil {
		s.logger.Warn("failed to record audit entry", "action", e.Action, "error", err)
	}
}

// handleListAudit returns the command audit trail, newest first.
//
// Query parameters:
//   - action: set_property, send_mode, set_location or controller
//   - source: api or mqtt
//   - node: node ID
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}
	if v := q.Get("node"); v != "" {
		id, err := parseUint8(v)
		if err != nil || id == 0 {
			writeBadRequest(w, "invalid node id")
			return
		}
		filter.Node = id
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeBadRequest(w, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
