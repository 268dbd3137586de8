// Package adminhttp implements the bridge's HTTP administration
// interface: device CRUD, tag writes, value/connection inspection, a
// live tag-update feed over WebSocket, and Prometheus metrics. Every
// handler encodes its response with encoding/json.
package adminhttp

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/modem"
	"modbus-bridge/internal/tagstore"
)

// Engine is the subset of engine.Engine the HTTP layer drives.
type Engine interface {
	AddDevice(d *model.Device) (*model.Device, error)
	RemoveDevice(id string) error
	WriteTag(deviceID, tagName, raw string) error
	Devices() []*model.Device
}

// Store is the subset of tagstore.Store the HTTP layer reads.
type Store interface {
	Snapshot() map[string]tagstore.DeviceSnapshot
}

// ConnectionLister is the subset of modem.Bank the HTTP layer reads.
type ConnectionLister interface {
	List() []modem.Connection
}

// Recorder receives write-latency observations, implemented by
// bridgemetrics.Metrics. Optional: a nil Recorder disables metrics
// recording.
type Recorder interface {
	ObserveWriteLatency(seconds float64)
}

// Server hosts the admin HTTP API and WebSocket live feed.
type Server struct {
	logger      *zap.Logger
	engine      Engine
	store       Store
	connections ConnectionLister
	recorder    Recorder
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New creates a Server over its collaborators. Call Handler to obtain the
// http.Handler to serve.
func New(logger *zap.Logger, eng Engine, store Store, connections ConnectionLister) *Server {
	return &Server{
		logger:      logger,
		engine:      eng,
		store:       store,
		connections: connections,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// SetEngine attaches the Engine after construction, for callers (like
// cmd/bridge) where the Engine and Server are mutually referential --
// the Poller's Republisher (the Poller is handed to the Engine) needs the
// Server, and the Server's handlers
// need the Engine.
func (s *Server) SetEngine(eng Engine) { s.engine = eng }

// SetRecorder attaches a metrics recorder. Optional; skip it in tests.
func (s *Server) SetRecorder(r Recorder) { s.recorder = r }

// Handler builds the admin HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/", s.handleDeviceByID)
	mux.HandleFunc("/api/values", s.handleValues)
	mux.HandleFunc("/api/connections", s.handleConnections)
	mux.HandleFunc("/api/write", s.handleWrite)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Devices())

	case http.MethodPost:
		var d model.Device
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeError(w, http.StatusBadRequest, "invalid device payload: "+err.Error())
			return
		}
		created, err := s.engine.AddDevice(&d)
		if err != nil {
			writeBridgeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeviceByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}
	switch r.Method {
	case http.MethodDelete:
		if err := s.engine.RemoveDevice(id); err != nil {
			writeBridgeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.connections.List())
}

type writeRequest struct {
	DeviceID string `json:"deviceId"`
	TagName  string `json:"tagName"`
	Value    string `json:"value"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid write payload: "+err.Error())
		return
	}
	if req.DeviceID == "" || req.TagName == "" {
		writeError(w, http.StatusBadRequest, "deviceId and tagName are required")
		return
	}
	start := time.Now()
	err := s.engine.WriteTag(req.DeviceID, req.TagName, req.Value)
	if s.recorder != nil {
		s.recorder.ObserveWriteLatency(time.Since(start).Seconds())
	}
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.logger.Info("websocket client connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("websocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// BroadcastTagUpdate pushes a live tag-update message to every connected
// WebSocket client. cmd/bridge wires it as a fan-out target alongside the
// Address-Space Bridge's own Republish for poll updates, so OPC UA
// subscribers and HTTP live-feed clients both see every polled sample.
// Tag writes are republished to the address space only and are not
// broadcast here.
func (s *Server) BroadcastTagUpdate(deviceID, tagName string, value interface{}) {
	message := map[string]interface{}{
		"type":     "tagUpdate",
		"deviceId": deviceID,
		"tag":      tagName,
		"value":    value,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(message); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeBridgeError(w http.ResponseWriter, err error) {
	status := bridgeerr.HTTPStatus(bridgeerr.KindOf(err))
	writeError(w, status, err.Error())
}
