package addressspace

import (
	"sync"

	"modbus-bridge/internal/model"
)

// node bundles a VariableHandle with the read/write closures Attach
// built for it.
type node struct {
	handle VariableHandle
	read   func() (model.Value, error)
	write  func(model.Value) error
}

// InMemoryFacade implements Facade without speaking the OPC UA wire
// protocol — it tracks folder/variable registration and the last
// republished sample, standing in for a real OPC UA server SDK.
type InMemoryFacade struct {
	mu        sync.RWMutex
	folders   map[string]string // device id -> device name
	variables map[string]*node  // "<deviceID>/<tagName>" -> node
	lastValue map[string]model.Value
}

// NewInMemoryFacade creates an empty facade.
func NewInMemoryFacade() *InMemoryFacade {
	return &InMemoryFacade{
		folders:   make(map[string]string),
		variables: make(map[string]*node),
		lastValue: make(map[string]model.Value),
	}
}

func varKey(deviceID, tagName string) string { return deviceID + "/" + tagName }

func (f *InMemoryFacade) EnsureFolder(deviceID, deviceName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders[deviceID] = deviceName
}

func (f *InMemoryFacade) RemoveFolder(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders, deviceID)
}

func (f *InMemoryFacade) AddVariable(h VariableHandle, read func() (model.Value, error), write func(model.Value) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variables[varKey(h.DeviceID, h.TagName)] = &node{handle: h, read: read, write: write}
}

func (f *InMemoryFacade) RemoveVariable(deviceID, tagName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := varKey(deviceID, tagName)
	delete(f.variables, key)
	delete(f.lastValue, key)
}

func (f *InMemoryFacade) Republish(deviceID, tagName string, v model.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastValue[varKey(deviceID, tagName)] = v
}

// ReadVariable invokes the variable's read closure, simulating an OPC UA
// client GetValue call.
func (f *InMemoryFacade) ReadVariable(deviceID, tagName string) (model.Value, error) {
	f.mu.RLock()
	n, ok := f.variables[varKey(deviceID, tagName)]
	f.mu.RUnlock()
	if !ok {
		return model.Value{}, errNoSuchVariable(deviceID, tagName)
	}
	return n.read()
}

// WriteVariable invokes the variable's write closure, simulating an OPC
// UA client SetValue call.
func (f *InMemoryFacade) WriteVariable(deviceID, tagName string, v model.Value) error {
	f.mu.RLock()
	n, ok := f.variables[varKey(deviceID, tagName)]
	f.mu.RUnlock()
	if !ok {
		return errNoSuchVariable(deviceID, tagName)
	}
	return n.write(v)
}

// LastRepublished returns the most recent value Republish recorded for a
// variable, for test assertions.
func (f *InMemoryFacade) LastRepublished(deviceID, tagName string) (model.Value, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.lastValue[varKey(deviceID, tagName)]
	return v, ok
}

// VariableCount returns how many variables are currently registered,
// across all devices.
func (f *InMemoryFacade) VariableCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.variables)
}

// HasFolder reports whether a device's folder is currently registered.
func (f *InMemoryFacade) HasFolder(deviceID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.folders[deviceID]
	return ok
}
