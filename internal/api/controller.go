package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
)

// Controller wait bounds.
const (
	defaultWaitTimeout = 10 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

// handleControllerAdd puts the local controller into add mode.
func (s *Server) handleControllerAdd(w http.ResponseWriter, r *http.Request) {
	s.controllerCommand(w, r, "add", s.gateway.EnterAddMode)
}

// handleControllerStop takes the local controller out of add mode.
func (s *Server) handleControllerStop(w http.ResponseWriter, r *http.Request) {
	s.controllerCommand(w, r, "stop", s.gateway.StopMode)
}

// handleControllerReset resets the local controller.
func (s *Server) handleControllerReset(w http.ResponseWriter, r *http.Request) {
	s.controllerCommand(w, r, "reset", s.gateway.ResetController)
}

// handleControllerLearn asks the local controller to learn the next node.
func (s *Server) handleControllerLearn(w http.ResponseWriter, r *http.Request) {
	s.controllerCommand(w, r, "learn", s.gateway.LearnNode)
}

func (s *Server) controllerCommand(w http.ResponseWriter, r *http.Request, name string, cmd func(context.Context) error) {
	err := cmd(r.Context())
	s.recordCommand(r, audit.Entry{
		Action:  audit.ActionController,
		Details: map[string]any{"command": name},
	}, err)
	if err != nil {
		s.writeGatewayError(w, err, "controller command failed")
		return
	}
	s.logger.Info("controller command sent", "command", name)
	writeJSON(w, http.StatusAccepted, map[string]any{"command": name})
}

// handleControllerStatus returns the controller's latest status line.
func (s *Server) handleControllerStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.gateway.CurrentStatus()
	if err != nil {
		s.writeGatewayError(w, err, "failed to get controller status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// handleControllerWait blocks until the controller reports a status
// containing the given text or the timeout elapses.
//
// Query parameters:
//   - status: required substring to wait for
//   - timeout: Go duration, default 10s, at most 2m
func (s *Server) handleControllerWait(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	want := q.Get("status")
	if want == "" {
		writeBadRequest(w, "status query parameter is required")
		return
	}

	timeout := defaultWaitTimeout
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxWaitTimeout {
			writeBadRequest(w, fmt.Sprintf("timeout must be a duration between 0 and %s", maxWaitTimeout))
			return
		}
		timeout = d
	}

	matched, err := s.gateway.WaitForStatus(r.Context(), want, timeout)
	if err != nil {
		s.writeGatewayError(w, err, "failed to wait for controller status")
		return
	}
	current, _ := s.gateway.CurrentStatus() //nolint:errcheck // controller presence checked by WaitForStatus
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  current,
		"wanted":  want,
		"matched": matched,
	})
}
