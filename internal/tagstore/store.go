// Package tagstore implements the authoritative in-memory map from
// (device-id, tag-name) to its current typed value and metadata. A
// single sync.RWMutex guards one flat map, so every operation is
// linearizable by construction rather than by convention across several
// maps.
package tagstore

import (
	"fmt"
	"sync"

	"modbus-bridge/internal/model"
)

type key struct {
	deviceID string
	tagName  string
}

// Entry is the value half of the store's map: a tag's metadata plus its
// current value.
type Entry struct {
	DeviceID     string
	TagName      string
	Address      uint16
	RegisterType model.RegisterType
	DataType     model.DataType
	Writable     bool
	Value        model.Value
}

// Store is the flat (device-id, tag-name) -> Entry map.
type Store struct {
	mu      sync.RWMutex
	entries map[key]*Entry
	// devices tracks which tag names belong to which device, so
	// uninstall/snapshot don't need to scan the whole map.
	devices map[string][]string
	names   map[string]string // device id -> device name, for snapshot
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[key]*Entry),
		devices: make(map[string][]string),
		names:   make(map[string]string),
	}
}

// Get returns the entry for (deviceID, tagName) and whether it exists.
func (s *Store) Get(deviceID, tagName string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key{deviceID, tagName}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetFromWire updates a tag's current value. Idempotent: setting the
// same value twice has the same observable effect as once.
func (s *Store) SetFromWire(deviceID, tagName string, v model.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key{deviceID, tagName}]
	if !ok {
		return fmt.Errorf("tagstore: no such tag %s/%s", deviceID, tagName)
	}
	e.Value = v
	return nil
}

// Install atomically inserts every tag of device into the store.
func (s *Store) Install(device *model.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(device.Tags))
	for _, t := range device.Tags {
		s.entries[key{device.ID, t.Name}] = &Entry{
			DeviceID:     device.ID,
			TagName:      t.Name,
			Address:      t.Address,
			RegisterType: t.RegisterType,
			DataType:     t.DataType,
			Writable:     t.Writable(),
			Value:        t.CurrentValue,
		}
		names = append(names, t.Name)
	}
	s.devices[device.ID] = names
	s.names[device.ID] = device.Name
}

// Uninstall atomically removes every tag of deviceID from the store.
func (s *Store) Uninstall(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.devices[deviceID] {
		delete(s.entries, key{deviceID, name})
	}
	delete(s.devices, deviceID)
	delete(s.names, deviceID)
}

// TagSnapshot is the value+writable pair reported for one tag in the
// HTTP /api/values response.
type TagSnapshot struct {
	Value    interface{} `json:"value"`
	Writable bool        `json:"writable"`
}

// DeviceSnapshot is the per-device view in the HTTP /api/values response.
type DeviceSnapshot struct {
	Name string                 `json:"name"`
	Tags map[string]TagSnapshot `json:"tags"`
}

// Snapshot returns a point-in-time copy of every device's tag values,
// shaped for GET /api/values.
func (s *Store) Snapshot() map[string]DeviceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]DeviceSnapshot, len(s.devices))
	for deviceID, tagNames := range s.devices {
		tags := make(map[string]TagSnapshot, len(tagNames))
		for _, name := range tagNames {
			e := s.entries[key{deviceID, name}]
			tags[name] = TagSnapshot{
				Value:    SnapshotValue(e.Value),
				Writable: e.Writable,
			}
		}
		out[deviceID] = DeviceSnapshot{Name: s.names[deviceID], Tags: tags}
	}
	return out
}

// SnapshotValue coerces a typed Value into the plain interface{} JSON
// shape used by the HTTP admin surface: nil when unset, else the
// underlying Go value for the tag's declared type.
func SnapshotValue(v model.Value) interface{} {
	if !v.Set {
		return nil
	}
	switch v.Type {
	case model.DataTypeFloat:
		return v.Float
	case model.DataTypeInt32:
		return v.Int32
	case model.DataTypeUint32:
		return v.Uint32
	case model.DataTypeInt16:
		return v.Int16
	case model.DataTypeUint16:
		return v.Uint16
	case model.DataTypeBoolean:
		return v.Boolean
	default:
		return nil
	}
}
