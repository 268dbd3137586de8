// Package modem implements the Modem Listener Bank: a contiguous range
// of TCP listeners that accept incoming connections from field devices
// which dial in and act as the Modbus client ("modem" devices),
// answering their Read Holding Registers queries from the Tag Store.
//
// Each accepted connection is served on its own goroutine; the Tag
// Store's own locking already serializes concurrent reads, so no
// separate request-dispatch goroutine is needed.
package modem

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

// Bank owns one TCP listener per port in [lo, hi] and the registry of
// tcp-modem devices routed to them.
type Bank struct {
	logger *zap.Logger
	store  TagReader
	lo, hi int

	mu        sync.RWMutex
	routes    map[routeKey]*model.Device
	listeners []net.Listener
	wg        sync.WaitGroup

	Registry *Registry
	recorder Recorder
}

// SetRecorder attaches a metrics recorder. Optional; skip it in tests.
func (b *Bank) SetRecorder(r Recorder) { b.recorder = r }

type routeKey struct {
	listenPort int
	unitID     byte
}

// Recorder receives session-accept and dropped-frame counts, implemented
// by bridgemetrics.Metrics. Optional: a nil Recorder disables recording.
type Recorder interface {
	ObserveModemSession(listenPort int)
	ObserveModemFrameDropped()
}

// New creates a Bank covering the inclusive port range [lo, hi].
func New(logger *zap.Logger, store *tagstore.Store, lo, hi int) *Bank {
	return &Bank{
		logger:   logger,
		store:    store,
		lo:       lo,
		hi:       hi,
		routes:   make(map[routeKey]*model.Device),
		Registry: newRegistry(),
	}
}

// Start opens a listener on every port in the bank's range. If any
// listener fails to bind, previously opened listeners are closed and the
// error is returned.
func (b *Bank) Start() error {
	for port := b.lo; port <= b.hi; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			b.closeListeners()
			return fmt.Errorf("modem: listen on port %d: %w", port, err)
		}
		b.listeners = append(b.listeners, ln)
		b.wg.Add(1)
		go b.accept(ln, port)
	}
	b.logger.Info("modem listener bank started", zap.Int("lowPort", b.lo), zap.Int("highPort", b.hi))
	return nil
}

func (b *Bank) accept(ln net.Listener, port int) {
	defer b.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if b.recorder != nil {
			b.recorder.ObserveModemSession(port)
		}
		s := &session{
			conn:       conn,
			listenPort: port,
			router:     b,
			store:      b.store,
			registry:   b.Registry,
			logger:     b.logger,
			recorder:   b.recorder,
		}
		go s.serve()
	}
}

// Close stops accepting new connections on every listener in the bank.
// Already-open sessions are not forcibly closed; they unwind on their
// next read error once the underlying connection is torn down by its
// peer, same as the rest of the bridge's "I/O errors never affect other
// sessions" policy.
func (b *Bank) Close() {
	b.closeListeners()
	b.wg.Wait()
}

func (b *Bank) closeListeners() {
	b.mu.Lock()
	listeners := b.listeners
	b.listeners = nil
	b.mu.Unlock()
	for _, ln := range listeners {
		ln.Close()
	}
}

// RegisterDevice adds a tcp-modem device as a routing target.
// (listenPort, deviceId) must already be unique across the catalog by
// the time AddDevice calls this.
func (b *Bank) RegisterDevice(device *model.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[routeKey{listenPort: device.Port, unitID: device.DeviceID}] = device
}

// UnregisterDevice removes a tcp-modem device's routing entry.
func (b *Bank) UnregisterDevice(device *model.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.routes, routeKey{listenPort: device.Port, unitID: device.DeviceID})
}

// Route implements Router.
func (b *Bank) Route(listenPort int, unitID byte) (*model.Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.routes[routeKey{listenPort: listenPort, unitID: unitID}]
	return d, ok
}
