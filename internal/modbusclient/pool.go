// Package modbusclient is the Modbus Client Pool: one logical client per
// outbound (tcp/rtu) device, with lazy connect, reconnect-on-failure, and
// serialized request issuance per device. Each device's connection is
// guarded by its own gobreaker.CircuitBreaker so a failing device backs
// off instead of retrying every poll tick.
package modbusclient

import (
	"fmt"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/codec"
	"modbus-bridge/internal/model"
)

// DefaultTimeout bounds every Modbus request/response exchange, per
// a 1-3s window, long enough to ride out a brief transport hiccup without stalling every poll tick behind it.
const DefaultTimeout = 2 * time.Second

// entry holds the transport for one device plus the mutex that makes all
// Modbus operations on it linearizable.
type entry struct {
	mu        sync.Mutex
	device    *model.Device
	client    gomodbus.Client
	tcpHandle *gomodbus.TCPClientHandler
	rtuHandle *gomodbus.RTUClientHandler
	connected bool
	breaker   *gobreaker.CircuitBreaker
}

// Recorder receives connected-device gauge transitions, implemented by
// bridgemetrics.Metrics. Optional: a nil Recorder disables metrics
// recording.
type Recorder interface {
	IncConnectedDevices()
	DecConnectedDevices()
}

// Pool owns one entry per non-modem device.
type Pool struct {
	logger   *zap.Logger
	recorder Recorder
	mu       sync.Mutex
	entries  map[string]*entry
}

// New creates an empty Pool.
func New(logger *zap.Logger) *Pool {
	return &Pool{logger: logger, entries: make(map[string]*entry)}
}

// SetRecorder attaches a metrics recorder. Optional; skip it in tests.
func (p *Pool) SetRecorder(r Recorder) { p.recorder = r }

// Add registers a device with the pool. It does not connect; connection
// is lazy, established by the first EnsureConnected/ReadRegion/WriteTag.
func (p *Pool) Add(device *model.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[device.ID] = &entry{
		device: device,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("modbus-%s", device.ID),
			MaxRequests: 1,
			Interval:    0,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Remove closes (best-effort) and removes a device's pool entry.
func (p *Pool) Remove(deviceID string) {
	p.mu.Lock()
	e, ok := p.entries[deviceID]
	delete(p.entries, deviceID)
	p.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p.closeTransport(e)
}

func (p *Pool) get(deviceID string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[deviceID]
	if !ok {
		return nil, bridgeerr.New(bridgeerr.NotFound, "pool.get", "no pool entry for device "+deviceID)
	}
	return e, nil
}

// EnsureConnected dials the device's transport if not already connected,
// through the device's circuit breaker. On any failure the entry is left
// disconnected and ConnectFailed is returned.
func (p *Pool) EnsureConnected(deviceID string) error {
	e, err := p.get(deviceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.ensureConnectedLocked(e)
}

func (p *Pool) ensureConnectedLocked(e *entry) error {
	if e.connected {
		return nil
	}
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, connect(e)
	})
	if err != nil {
		e.connected = false
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			p.logger.Warn("circuit open, skipping dial", zap.String("device", e.device.ID))
			return bridgeerr.Wrap(bridgeerr.ConnectFailed, "ensureConnected", "circuit open, not dialing "+e.device.ID, err)
		}
		p.logger.Error("modbus connect failed", zap.String("device", e.device.ID), zap.Error(err))
		return bridgeerr.Wrap(bridgeerr.ConnectFailed, "ensureConnected", "failed to connect to "+e.device.ID, err)
	}
	e.connected = true
	e.device.Connected = true
	if p.recorder != nil {
		p.recorder.IncConnectedDevices()
	}
	p.logger.Info("modbus connection established", zap.String("device", e.device.ID), zap.String("type", string(e.device.Type)))
	return nil
}

func connect(e *entry) error {
	d := e.device
	switch d.Type {
	case model.DeviceTCP:
		h := gomodbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", d.Address, d.Port))
		h.Timeout = DefaultTimeout
		h.SlaveId = d.DeviceID
		if err := h.Connect(); err != nil {
			return err
		}
		e.tcpHandle = h
		e.rtuHandle = nil
		e.client = gomodbus.NewClient(h)
		return nil

	case model.DeviceRTU:
		h := gomodbus.NewRTUClientHandler(d.SerialPath)
		h.BaudRate = d.BaudRate
		h.DataBits = d.DataBits
		h.Parity = d.Parity
		h.StopBits = d.StopBits
		h.SlaveId = d.DeviceID
		h.Timeout = DefaultTimeout
		if err := h.Connect(); err != nil {
			return err
		}
		e.rtuHandle = h
		e.tcpHandle = nil
		e.client = gomodbus.NewClient(h)
		return nil

	default:
		return fmt.Errorf("modbusclient: device %s is not an outbound (tcp/rtu) device", d.ID)
	}
}

func (p *Pool) closeTransport(e *entry) {
	wasConnected := e.connected
	if e.tcpHandle != nil {
		e.tcpHandle.Close()
		e.tcpHandle = nil
	}
	if e.rtuHandle != nil {
		e.rtuHandle.Close()
		e.rtuHandle = nil
	}
	e.client = nil
	e.connected = false
	if e.device != nil {
		e.device.Connected = false
	}
	if wasConnected && p.recorder != nil {
		p.recorder.DecConnectedDevices()
	}
}

// recycle marks the transport disconnected and closes it best-effort, as
// required on any transport error.
func (p *Pool) recycle(e *entry) {
	p.closeTransport(e)
}

// ReadRegion issues the FC appropriate for tag.RegisterType and returns
// the raw register words (1 or 2, per the tag's data type).
func (p *Pool) ReadRegion(deviceID string, tag *model.Tag) ([]uint16, error) {
	e, err := p.get(deviceID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.ensureConnectedLocked(e); err != nil {
		return nil, err
	}

	count := codec.RegisterCount(tag.DataType)
	var raw []byte
	var opErr error

	switch tag.RegisterType {
	case model.RegisterHolding:
		raw, opErr = e.client.ReadHoldingRegisters(tag.Address, uint16(count))
	case model.RegisterInput:
		raw, opErr = e.client.ReadInputRegisters(tag.Address, uint16(count))
	case model.RegisterCoil:
		raw, opErr = e.client.ReadCoils(tag.Address, 1)
	case model.RegisterDiscrete:
		raw, opErr = e.client.ReadDiscreteInputs(tag.Address, 1)
	default:
		opErr = fmt.Errorf("unknown register type %q", tag.RegisterType)
	}

	if opErr != nil {
		p.recycle(e)
		p.logger.Error("modbus read failed, transport recycled", zap.String("device", deviceID), zap.String("tag", tag.Name), zap.Error(opErr))
		return nil, bridgeerr.Wrap(bridgeerr.TransportError, "readRegion", "read failed for "+deviceID+"/"+tag.Name, opErr)
	}

	return bytesToWords(raw, tag.RegisterType, count), nil
}

func bytesToWords(raw []byte, rt model.RegisterType, count int) []uint16 {
	if rt == model.RegisterCoil || rt == model.RegisterDiscrete {
		var w uint16
		if len(raw) > 0 && raw[0]&0x01 != 0 {
			w = 1
		}
		return []uint16{w}
	}
	words := make([]uint16, 0, count)
	for i := 0; i+1 < len(raw) && len(words) < count; i += 2 {
		words = append(words, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return words
}

// WriteTag writes v to tag's register: FC05 for a coil, FC06 for a
// one-register holding type, FC16 for a two-register holding type. Any
// register type other than holding/coil fails with NotWritable.
func (p *Pool) WriteTag(deviceID string, tag *model.Tag, v model.Value) error {
	if !tag.Writable() {
		return bridgeerr.New(bridgeerr.NotWritable, "writeTag", "register type "+string(tag.RegisterType)+" is not writable")
	}

	e, err := p.get(deviceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := p.ensureConnectedLocked(e); err != nil {
		return err
	}

	var opErr error
	switch tag.RegisterType {
	case model.RegisterCoil:
		var coilValue uint16
		if v.Boolean {
			coilValue = 0xFF00
		}
		_, opErr = e.client.WriteSingleCoil(tag.Address, coilValue)

	case model.RegisterHolding:
		words, encErr := codec.Encode(v, tag.DataType)
		if encErr != nil {
			return encErr
		}
		if len(words) == 1 {
			_, opErr = e.client.WriteSingleRegister(tag.Address, words[0])
		} else {
			payload := make([]byte, 0, len(words)*2)
			for _, w := range words {
				payload = append(payload, byte(w>>8), byte(w&0xFF))
			}
			_, opErr = e.client.WriteMultipleRegisters(tag.Address, uint16(len(words)), payload)
		}

	default:
		return bridgeerr.New(bridgeerr.NotWritable, "writeTag", "register type "+string(tag.RegisterType)+" is not writable")
	}

	if opErr != nil {
		p.recycle(e)
		p.logger.Error("modbus write failed, transport recycled", zap.String("device", deviceID), zap.String("tag", tag.Name), zap.Error(opErr))
		return bridgeerr.Wrap(bridgeerr.TransportError, "writeTag", "write failed for "+deviceID+"/"+tag.Name, opErr)
	}
	return nil
}

// IsConnected reports the last known connection state for a device.
func (p *Pool) IsConnected(deviceID string) bool {
	e, err := p.get(deviceID)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}
