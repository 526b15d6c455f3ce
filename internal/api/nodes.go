package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wukong-iot/wkpf-gateway/internal/audit"
	"github.com/wukong-iot/wkpf-gateway/internal/gateway"
	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// propertyResponse is the body of property reads and writes.
type propertyResponse struct {
	Node     uint8          `json:"node"`
	Object   uint8          `json:"object"`
	Property uint8          `json:"property"`
	Type     wkpf.ValueType `json:"type"`
	Value    any            `json:"value"`
}

// setPropertyRequest is the body of PUT .../properties/{prop}.
type setPropertyRequest struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// locationRequest is the body of PUT /nodes/{id}/location.
type locationRequest struct {
	Location string `json:"location"`
}

// handleListNodes returns every node in the directory.
//
// Query parameters:
//   - refresh: when true, browse for devices and re-query every inventory
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	force, err := boolQuery(r, "refresh")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	nodes, err := s.gateway.GetAllNodeInfos(r.Context(), force)
	if err != nil {
		s.writeGatewayError(w, err, "failed to list nodes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

// handleGetNode returns one directory entry. With refresh=true the node's
// inventory is queried over the wire first.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	refresh, err := boolQuery(r, "refresh")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	get := s.gateway.Node
	if refresh {
		get = s.gateway.GetNodeInfo
	}
	n, err := get(r.Context(), id)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get node")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleGetLocation returns a node's location path.
func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	location, err := s.gateway.GetLocation(r.Context(), id)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": id, "location": location})
}

// handleSetLocation assigns a location path and returns the stored form.
func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctx := r.Context()
	err := s.gateway.SetLocation(ctx, id, req.Location)
	s.recordCommand(r, audit.Entry{
		Action:  audit.ActionSetLocation,
		Node:    id,
		Details: map[string]any{"location": req.Location},
	}, err)
	if err != nil {
		s.writeGatewayError(w, err, "failed to set location")
		return
	}
	location, err := s.gateway.GetLocation(ctx, id)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": id, "location": location})
}

// handleGetClasses queries the classes a node hosts.
func (s *Server) handleGetClasses(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	classes, err := s.gateway.GetClassList(r.Context(), id)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get class list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": id, "classes": classes})
}

// handleGetObjects queries the objects a node hosts.
func (s *Server) handleGetObjects(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	objects, err := s.gateway.GetObjectList(r.Context(), id)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get object list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": id, "objects": objects})
}

// handleGetProperty reads one property from a device.
//
// Query parameters:
//   - port: device UDP port override (default: the directory entry's port)
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	addr, ok := propertyParams(w, r)
	if !ok {
		return
	}
	v, err := s.gateway.GetProperty(r.Context(), addr.node, addr.port, addr.object, addr.property)
	if err != nil {
		s.writeGatewayError(w, err, "failed to get property")
		return
	}
	writeJSON(w, http.StatusOK, addr.response(v))
}

// handleSetProperty writes one property and returns the stored value.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	addr, ok := propertyParams(w, r)
	if !ok {
		return
	}
	var req setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	t, err := wkpf.ParseValueType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	stored, err := s.gateway.SetProperty(r.Context(), addr.node, addr.port, addr.object, addr.property, t, req.Value)
	s.recordCommand(r, audit.Entry{
		Action: audit.ActionSetProperty,
		Node:   addr.node,
		Details: map[string]any{
			"object":   addr.object,
			"property": addr.property,
			"type":     t.String(),
			"value":    req.Value,
		},
	}, err)
	if err != nil {
		s.writeGatewayError(w, err, "failed to set property")
		return
	}
	writeJSON(w, http.StatusOK, addr.response(stored))
}

// handleSendMode sends a MODE_CONTROL datagram to a node.
func (s *Server) handleSendMode(w http.ResponseWriter, r *http.Request) {
	id, ok := nodeIDParam(w, r)
	if !ok {
		return
	}
	mode, err := parseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	err = s.gateway.SendMode(r.Context(), id, mode)
	s.recordCommand(r, audit.Entry{
		Action:  audit.ActionSendMode,
		Node:    id,
		Details: map[string]any{"mode": mode.String()},
	}, err)
	if err != nil {
		s.writeGatewayError(w, err, "failed to send mode")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"node": id, "mode": mode.String()})
}

// ─── Parameters ───────────────────────────────────────────────────

// propertyAddr identifies one property on one device.
type propertyAddr struct {
	node     uint8
	port     int
	object   uint8
	property uint8
}

func (a propertyAddr) response(v gateway.Value) propertyResponse {
	return propertyResponse{
		Node:     a.node,
		Object:   a.object,
		Property: a.property,
		Type:     v.Type,
		Value:    wkpf.JSONValue(v.Value),
	}
}

// propertyParams parses {id}, {obj}, {prop} and the port query. It writes
// a 400 and reports false on the first invalid parameter.
func propertyParams(w http.ResponseWriter, r *http.Request) (propertyAddr, bool) {
	var a propertyAddr
	var ok bool
	if a.node, ok = nodeIDParam(w, r); !ok {
		return a, false
	}
	obj, err := parseUint8(chi.URLParam(r, "obj"))
	if err != nil {
		writeBadRequest(w, "invalid object id")
		return a, false
	}
	prop, err := parseUint8(chi.URLParam(r, "prop"))
	if err != nil {
		writeBadRequest(w, "invalid property index")
		return a, false
	}
	a.object, a.property = obj, prop

	if p := r.URL.Query().Get("port"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			writeBadRequest(w, "port must be between 1 and 65535")
			return a, false
		}
		a.port = port
	}
	return a, true
}

// nodeIDParam parses the {id} URL parameter. Node IDs start at 1.
func nodeIDParam(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	id, err := parseUint8(chi.URLParam(r, "id"))
	if err != nil || id == 0 {
		writeBadRequest(w, "invalid node id")
		return 0, false
	}
	return id, true
}

func parseUint8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

// parseMode maps a mode name to its MODE_CONTROL byte.
func parseMode(name string) (wkpf.Mode, error) {
	for _, m := range []wkpf.Mode{wkpf.ModeAdd, wkpf.ModeStop, wkpf.ModeReset} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q (want add, stop or reset)", name)
}
