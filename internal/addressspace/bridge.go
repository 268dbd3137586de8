// Package addressspace is the Address-Space Bridge: for each device it
// registers a folder node and one variable per tag, with getters that
// read through to the Tag Store and setters that call through to the
// Modbus Client Pool before updating the Tag Store.
//
// The Facade interface stands in for a real OPC UA server SDK's
// address-space API; InMemoryFacade is a minimal concrete
// implementation using a node-id map and in-process read/write
// closures instead of wire I/O.
package addressspace

import (
	"fmt"

	"go.uber.org/zap"

	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/codec"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

// Writer is the subset of modbusclient.Pool the bridge needs to service
// OPC UA variable writes.
type Writer interface {
	WriteTag(deviceID string, tag *model.Tag, v model.Value) error
}

// VariableHandle is what a real OPC UA SDK would hand back for a
// registered variable: a node-id plus the read/write closures the SDK
// invokes on client access. Exposed so adminhttp/tests can drive the same
// path a real session would.
type VariableHandle struct {
	NodeID       string
	DeviceID     string
	TagName      string
	DataType     model.DataType
	Writable     bool
	MinimumSamplingInterval int // milliseconds, mirrors device.PollInterval
}

// Facade is the narrow interface the bridge depends on instead of a real
// OPC UA server SDK.
type Facade interface {
	EnsureFolder(deviceID, deviceName string)
	RemoveFolder(deviceID string)
	AddVariable(h VariableHandle, read func() (model.Value, error), write func(model.Value) error)
	RemoveVariable(deviceID, tagName string)
	Republish(deviceID, tagName string, v model.Value)
}

// Bridge wires the Tag Store and Client Pool into a Facade.
type Bridge struct {
	logger *zap.Logger
	store  *tagstore.Store
	writer Writer
	facade Facade
}

// New creates a Bridge over the given collaborators.
func New(logger *zap.Logger, store *tagstore.Store, writer Writer, facade Facade) *Bridge {
	return &Bridge{logger: logger, store: store, writer: writer, facade: facade}
}

// Attach registers a device's folder and one variable per tag. Modem
// devices get variables too, but their setters always reject with
// NotWritable (no reverse path).
func (b *Bridge) Attach(device *model.Device) {
	b.facade.EnsureFolder(device.ID, device.Name)

	for _, tag := range device.Tags {
		tag := tag
		nodeID := fmt.Sprintf("%s_%s", device.ID, tag.Name)
		writable := tag.Writable() && device.Type != model.DeviceTCPModem

		read := func() (model.Value, error) {
			e, ok := b.store.Get(device.ID, tag.Name)
			if !ok {
				return model.Value{}, bridgeerr.New(bridgeerr.NotFound, "read", "unknown tag "+nodeID)
			}
			return e.Value, nil
		}

		var write func(model.Value) error
		if writable {
			write = func(v model.Value) error {
				if err := b.writer.WriteTag(device.ID, tag, v); err != nil {
					return err
				}
				if err := b.store.SetFromWire(device.ID, tag.Name, v); err != nil {
					return err
				}
				b.facade.Republish(device.ID, tag.Name, v)
				return nil
			}
		} else {
			write = func(model.Value) error {
				return bridgeerr.New(bridgeerr.NotWritable, "write", "tag "+nodeID+" is not writable")
			}
		}

		b.facade.AddVariable(VariableHandle{
			NodeID:                  nodeID,
			DeviceID:                device.ID,
			TagName:                 tag.Name,
			DataType:                tag.DataType,
			Writable:                writable,
			MinimumSamplingInterval: device.PollInterval,
		}, read, write)
	}

	b.logger.Info("device attached to address space", zap.String("device", device.ID), zap.Int("tags", len(device.Tags)))
}

// Detach disposes a device's folder and all of its variables.
func (b *Bridge) Detach(device *model.Device) {
	for _, tag := range device.Tags {
		b.facade.RemoveVariable(device.ID, tag.Name)
	}
	b.facade.RemoveFolder(device.ID)
	b.logger.Info("device detached from address space", zap.String("device", device.ID))
}

// Republish notifies the facade that a tag's value changed out-of-band
// (i.e. from a Poller tick rather than an OPC UA write), so subscribers
// observe the new sample. Implements poller.Republisher.
func (b *Bridge) Republish(deviceID, tagName string) {
	e, ok := b.store.Get(deviceID, tagName)
	if !ok {
		return
	}
	b.facade.Republish(deviceID, tagName, e.Value)
}

// WriteVia resolves device+tag, checks writability, parses the raw string
// as the tag's declared type, and performs the same write path as an OPC
// UA setter (Modbus write -> Tag Store update -> address-space republish).
// This is the path HTTP admin writes use.
func (b *Bridge) WriteVia(device *model.Device, tagName, raw string) error {
	tag := device.FindTag(tagName)
	if tag == nil {
		return bridgeerr.New(bridgeerr.NotFound, "writeVia", "unknown tag "+tagName)
	}
	if !tag.Writable() || device.Type == model.DeviceTCPModem {
		return bridgeerr.New(bridgeerr.NotWritable, "writeVia", "tag "+tagName+" is not writable")
	}
	v, err := codec.ParseValue(raw, tag.DataType)
	if err != nil {
		return err
	}
	if err := b.writer.WriteTag(device.ID, tag, v); err != nil {
		return err
	}
	if err := b.store.SetFromWire(device.ID, tagName, v); err != nil {
		return err
	}
	b.facade.Republish(device.ID, tagName, v)
	return nil
}
