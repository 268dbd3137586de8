// Package engine implements the Admin Operations and lifecycle
// controller: add/remove device and write-tag, plus startup/shutdown
// sequencing that binds the Tag Store, Client Pool, Poller,
// Address-Space Bridge and Modem Listener Bank together. Adding a device
// is atomic: a failure partway through rolls back every prior step.
// Removing a device is not rolled back: if persisting the catalog fails,
// the device has already been torn down and dropped from memory.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"modbus-bridge/internal/addressspace"
	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/config"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

// ClientPool is the subset of modbusclient.Pool the engine drives.
type ClientPool interface {
	Add(device *model.Device)
	Remove(deviceID string)
	IsConnected(deviceID string) bool
}

// Poller is the subset of poller.Poller the engine drives.
type Poller interface {
	Start(ctx context.Context, device *model.Device)
	Stop(deviceID string)
}

// ModemBank is the subset of modem.Bank the engine drives.
type ModemBank interface {
	RegisterDevice(device *model.Device)
	UnregisterDevice(device *model.Device)
}

// Catalog is the subset of catalog.FileCatalog the engine persists
// through.
type Catalog interface {
	Load() ([]*model.Device, error)
	Save(devices []*model.Device) error
}

// Engine owns the device catalog in memory and coordinates every other
// component on add/remove/write.
type Engine struct {
	logger    *zap.Logger
	cfg       *config.Config
	store     *tagstore.Store
	pool      ClientPool
	poller    Poller
	bridge    *addressspace.Bridge
	modemBank ModemBank
	catalog   Catalog

	mu      sync.Mutex
	devices map[string]*model.Device

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates an Engine over its collaborators. Start must be called
// before AddDevice/RemoveDevice/WriteTag are used.
func New(logger *zap.Logger, cfg *config.Config, store *tagstore.Store, pool ClientPool, pl Poller, bridge *addressspace.Bridge, modemBank ModemBank, cat Catalog) *Engine {
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		pool:      pool,
		poller:    pl,
		bridge:    bridge,
		modemBank: modemBank,
		catalog:   cat,
		devices:   make(map[string]*model.Device),
	}
}

// Start loads the catalog and materializes every stored device: Tag
// Store install, Address-Space attach, and either a Poller task (for
// tcp/rtu) or a Listener Bank route (for tcp-modem).
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	devices, err := e.catalog.Load()
	if err != nil {
		return fmt.Errorf("engine: load catalog: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range devices {
		e.cfg.ApplyDeviceDefaults(d)
		e.materializeLocked(d)
		e.devices[d.ID] = d
		e.logger.Info("device loaded from catalog", zap.String("device", d.ID), zap.String("type", string(d.Type)))
	}
	return nil
}

// Shutdown stops every running poller task; the Listener Bank and HTTP
// server are owned and closed by cmd/bridge's main, not the engine.
func (e *Engine) Shutdown() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, d := range e.devices {
		if d.Type != model.DeviceTCPModem {
			e.poller.Stop(id)
		}
	}
}

// materializeLocked wires an already-validated device into every
// collaborator. Caller holds e.mu.
func (e *Engine) materializeLocked(d *model.Device) {
	e.store.Install(d)
	e.bridge.Attach(d)
	if d.Type == model.DeviceTCPModem {
		e.modemBank.RegisterDevice(d)
		return
	}
	e.pool.Add(d)
	e.poller.Start(e.runCtx, d)
}

// dematerializeLocked undoes materializeLocked. Caller holds e.mu.
func (e *Engine) dematerializeLocked(d *model.Device) {
	if d.Type == model.DeviceTCPModem {
		e.modemBank.UnregisterDevice(d)
	} else {
		e.poller.Stop(d.ID)
		e.pool.Remove(d.ID)
	}
	e.bridge.Detach(d)
	e.store.Uninstall(d.ID)
}

// AddDevice validates, assigns an id if absent, persists, and
// materializes a new device. The id and the config defaults are written
// into d before validation and stay there even when the call fails. If
// persisting fails, d is taken back out of the engine's device map, so a
// failure partway through leaves no partial engine state.
func (e *Engine) AddDevice(d *model.Device) (*model.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d.ID == "" {
		d.ID = generateID()
	}
	e.cfg.ApplyDeviceDefaults(d)

	if err := e.validateLocked(d); err != nil {
		return nil, err
	}

	e.devices[d.ID] = d
	if err := e.persistLocked(); err != nil {
		delete(e.devices, d.ID)
		return nil, fmt.Errorf("engine: persist catalog: %w", err)
	}

	e.materializeLocked(d)
	e.logger.Info("device added", zap.String("device", d.ID), zap.String("type", string(d.Type)))
	return d, nil
}

// RemoveDevice tears a device down and removes it from the catalog.
func (e *Engine) RemoveDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.devices[id]
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "removeDevice", "no such device "+id)
	}

	e.dematerializeLocked(d)
	delete(e.devices, id)
	if err := e.persistLocked(); err != nil {
		e.logger.Error("catalog persist failed after device removal", zap.String("device", id), zap.Error(err))
		return fmt.Errorf("engine: persist catalog: %w", err)
	}
	e.logger.Info("device removed", zap.String("device", id))
	return nil
}

// WriteTag resolves device+tag and delegates to the Address-Space
// Bridge's unified write path.
func (e *Engine) WriteTag(deviceID, tagName, raw string) error {
	e.mu.Lock()
	d, ok := e.devices[deviceID]
	e.mu.Unlock()
	if !ok {
		return bridgeerr.New(bridgeerr.NotFound, "writeTag", "no such device "+deviceID)
	}
	return e.bridge.WriteVia(d, tagName, raw)
}

// Devices returns a snapshot of every device currently in the catalog.
func (e *Engine) Devices() []*model.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Device, 0, len(e.devices))
	for _, d := range e.devices {
		d.Connected = e.pool.IsConnected(d.ID)
		out = append(out, d)
	}
	return out
}

func (e *Engine) persistLocked() error {
	devices := make([]*model.Device, 0, len(e.devices))
	for _, d := range e.devices {
		devices = append(devices, d)
	}
	return e.catalog.Save(devices)
}

func (e *Engine) validateLocked(d *model.Device) error {
	if d.Name == "" {
		return bridgeerr.New(bridgeerr.ValidationFailed, "validate", "device name is required")
	}
	switch d.Type {
	case model.DeviceTCP, model.DeviceRTU, model.DeviceTCPModem:
	default:
		return bridgeerr.New(bridgeerr.ValidationFailed, "validate", "unknown device type "+string(d.Type))
	}
	if len(d.Tags) == 0 {
		return bridgeerr.New(bridgeerr.ValidationFailed, "validate", "device "+d.Name+" has no tags")
	}

	seenNames := make(map[string]bool, len(d.Tags))
	for _, t := range d.Tags {
		if seenNames[t.Name] {
			return bridgeerr.New(bridgeerr.ValidationFailed, "validate", "duplicate tag name "+t.Name)
		}
		seenNames[t.Name] = true
		if err := t.Validate(); err != nil {
			return bridgeerr.Wrap(bridgeerr.ValidationFailed, "validate", "tag validation failed", err)
		}
	}

	if existing, ok := e.devices[d.ID]; ok && existing != d {
		return bridgeerr.New(bridgeerr.ValidationFailed, "validate", "device id "+d.ID+" already exists")
	}

	if d.Type == model.DeviceTCPModem {
		if d.Port < e.cfg.Modem.LowPort || d.Port > e.cfg.Modem.HighPort {
			return bridgeerr.New(bridgeerr.ValidationFailed, "validate",
				fmt.Sprintf("listen port %d outside [%d, %d]", d.Port, e.cfg.Modem.LowPort, e.cfg.Modem.HighPort))
		}
		for _, other := range e.devices {
			if other.ID == d.ID || other.Type != model.DeviceTCPModem {
				continue
			}
			if other.Port == d.Port && other.DeviceID == d.DeviceID {
				return bridgeerr.New(bridgeerr.ValidationFailed, "validate",
					fmt.Sprintf("listen-port %d / unit-id %d already used by device %s", d.Port, d.DeviceID, other.ID))
			}
		}
	}
	return nil
}

func generateID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
