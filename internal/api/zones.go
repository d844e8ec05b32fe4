package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alxld/new-zone-light/internal/shadowstate"
	"github.com/alxld/new-zone-light/internal/zone"
)

// TurnOnBody is the body of POST /api/zones/{name}/turn_on. Every field is optional.
type TurnOnBody struct {
	Brightness *int        `json:"brightness,omitempty"`
	HSColor    *[2]float64 `json:"hs_color,omitempty"`
	RGBColor   *[3]int     `json:"rgb_color,omitempty"`
	ColorTemp  *int        `json:"color_temp,omitempty"`
	ColorMode  string      `json:"color_mode,omitempty"`
	Effect     string      `json:"effect,omitempty"`
	Transition *float64    `json:"transition,omitempty"`
}

// TurnOffBody is the body of POST /api/zones/{name}/turn_off
type TurnOffBody struct {
	Transition *float64 `json:"transition,omitempty"`
}

// ModeBody is the body of POST /api/zones/{name}/mode
type ModeBody struct {
	Mode string `json:"mode"`
}

// CommandResponse is returned by the POST endpoints
type CommandResponse struct {
	Zone  string            `json:"zone"`
	State zone.RuntimeState `json:"state"`
	Error string            `json:"error,omitempty"`
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := make([]*shadowstate.ZoneShadowState, 0)
	for _, name := range s.tracker.Names() {
		if st, ok := s.tracker.Get(name); ok {
			zones = append(zones, st)
		}
	}
	s.writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, ok := s.tracker.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound, "Unknown zone "+name)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := s.zones(name); !ok {
		writeError(w, http.StatusNotFound, ErrNotFound, "Unknown zone "+name)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrUnavailable, "History is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(name, limit)
	if err != nil {
		s.logger.Error("Failed to read history", zap.String("zone", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrInternalError, "Failed to read history")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	var body TurnOnBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Brightness != nil && (*body.Brightness < 0 || *body.Brightness > 255) {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "brightness must be within 0..255")
		return
	}
	if body.Transition != nil && *body.Transition < 0 {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "transition cannot be negative")
		return
	}

	req := zone.TurnOnRequest{
		Brightness: body.Brightness,
		HSColor:    body.HSColor,
		RGBColor:   body.RGBColor,
		ColorTemp:  body.ColorTemp,
		ColorMode:  body.ColorMode,
		Effect:     body.Effect,
		Transition: body.Transition,
		Source:     zone.SourceUnspecified,
	}
	s.command(w, r, func(a *zone.Arbitrator) error { return a.TurnOn(req) })
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	var body TurnOffBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Transition != nil && *body.Transition < 0 {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "transition cannot be negative")
		return
	}

	req := zone.TurnOffRequest{Transition: body.Transition, Source: zone.SourceUnspecified}
	s.command(w, r, func(a *zone.Arbitrator) error { return a.TurnOff(req) })
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body ModeBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Mode == "" {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "mode is required")
		return
	}
	s.command(w, r, func(a *zone.Arbitrator) error { return a.TurnOnMode(body.Mode) })
}

// command runs fn on the zone's goroutine and replies with the resulting state.
// Driver failures still change the zone state and are reported as 502.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(*zone.Arbitrator) error) {
	name := mux.Vars(r)["name"]
	runner, ok := s.zones(name)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound, "Unknown zone "+name)
		return
	}

	var st zone.RuntimeState
	var cmdErr error
	err := runner.Do(r.Context(), func(a *zone.Arbitrator) error {
		cmdErr = fn(a)
		st = a.State()
		return nil
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, zone.ErrRunnerClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, ErrUnavailable, err.Error())
		return
	}

	resp := CommandResponse{Zone: name, State: st}
	status := http.StatusOK
	if cmdErr != nil {
		s.logger.Warn("Zone command finished with errors",
			zap.String("zone", name),
			zap.String("path", r.URL.Path),
			zap.Error(cmdErr))
		resp.Error = cmdErr.Error()
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, resp)
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
