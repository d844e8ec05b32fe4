// Package testutil provides a Home Assistant WebSocket server for tests that
// exercise the real ha.Client end to end.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// ServiceCall records a service call for verification
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

type message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *event          `json:"event,omitempty"`
}

type event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

type stateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

type request struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	AccessToken string                 `json:"access_token,omitempty"`
	EventType   string                 `json:"event_type,omitempty"`
	Domain      string                 `json:"domain,omitempty"`
	Service     string                 `json:"service,omitempty"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// MockHAServer simulates the Home Assistant WebSocket API. Light service
// calls update the light's state the way Home Assistant would.
type MockHAServer struct {
	server *httptest.Server
	token  string
	logger *zap.Logger

	statesMu sync.RWMutex
	states   map[string]*EntityState

	connsMu     sync.Mutex
	connections []*connWrapper
	subscribed  map[*connWrapper]map[string]bool

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
}

// NewMockHAServer starts a server accepting the given token
func NewMockHAServer(token string, logger *zap.Logger) *MockHAServer {
	s := &MockHAServer{
		token:      token,
		logger:     logger.Named("mock_ha"),
		states:     make(map[string]*EntityState),
		subscribed: make(map[*connWrapper]map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the WebSocket endpoint
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close closes all connections and stops the server
func (s *MockHAServer) Close() {
	s.connsMu.Lock()
	for _, w := range s.connections {
		w.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()
	s.server.Close()
}

// SetState sets a state and broadcasts a state_changed event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	s.statesMu.Lock()
	oldState := s.states[entityID]
	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	data, _ := json.Marshal(stateChangedEvent{EntityID: entityID, NewState: newState, OldState: oldState})
	s.broadcast("state_changed", data)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FireEvent broadcasts a bus event such as zha_event to subscribed connections
func (s *MockHAServer) FireEvent(eventType string, data interface{}) {
	raw, _ := json.Marshal(data)
	s.broadcast(eventType, raw)
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	wrapper := &connWrapper{conn: conn}
	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.subscribed[wrapper] = make(map[string]bool)
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		delete(s.subscribed, wrapper)
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(message{Type: "auth_required"})

	var auth request
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(message{Type: "auth_invalid"})
		return
	}
	wrapper.write(message{Type: "auth_ok"})

	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}

		switch req.Type {
		case "subscribe_events":
			s.connsMu.Lock()
			if subs, ok := s.subscribed[wrapper]; ok {
				subs[req.EventType] = true
			}
			s.connsMu.Unlock()
			s.reply(wrapper, req.ID, nil)
		case "unsubscribe_events":
			s.reply(wrapper, req.ID, nil)
		case "get_states":
			s.statesMu.RLock()
			states := make([]*EntityState, 0, len(s.states))
			for _, st := range s.states {
				states = append(states, st)
			}
			s.statesMu.RUnlock()
			result, _ := json.Marshal(states)
			s.reply(wrapper, req.ID, result)
		case "call_service":
			s.handleCallService(req)
			s.reply(wrapper, req.ID, nil)
		default:
			s.reply(wrapper, req.ID, nil)
		}
	}
}

func (s *MockHAServer) reply(w *connWrapper, id int, result json.RawMessage) {
	success := true
	w.write(message{ID: id, Type: "result", Success: &success, Result: result})
}

func (s *MockHAServer) handleCallService(req request) {
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	s.callsMu.Unlock()

	entityID, _ := req.ServiceData["entity_id"].(string)
	if entityID == "" || (req.Domain != "light" && req.Domain != "input_boolean") {
		return
	}

	attrs := map[string]interface{}{}
	if old := s.GetState(entityID); old != nil {
		for k, v := range old.Attributes {
			attrs[k] = v
		}
	}
	newState := "off"
	if req.Service == "turn_on" {
		newState = "on"
		if b, ok := req.ServiceData["brightness"]; ok {
			attrs["brightness"] = b
		}
	}
	s.SetState(entityID, newState, attrs)
}

// broadcast sends an event to every connection subscribed to its type
func (s *MockHAServer) broadcast(eventType string, data json.RawMessage) {
	msg := message{
		Type: "event",
		Event: &event{
			EventType: eventType,
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	targets := make([]*connWrapper, 0, len(s.connections))
	for _, w := range s.connections {
		if s.subscribed[w][eventType] {
			targets = append(targets, w)
		}
	}
	s.connsMu.Unlock()

	for _, w := range targets {
		w.write(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// FindServiceCall finds the most recent service call matching criteria.
// An empty entityID matches any entity.
func (s *MockHAServer) FindServiceCall(domain, service, entityID string) *ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	for i := len(s.serviceCalls) - 1; i >= 0; i-- {
		call := s.serviceCalls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		if entityID == "" {
			return &call
		}
		if eid, ok := call.ServiceData["entity_id"].(string); ok && eid == entityID {
			return &call
		}
	}
	return nil
}

// CountServiceCalls counts service calls matching domain and service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()

	count := 0
	for _, call := range s.serviceCalls {
		if call.Domain == domain && call.Service == service {
			count++
		}
	}
	return count
}
