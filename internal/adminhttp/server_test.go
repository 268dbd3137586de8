package adminhttp_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-bridge/internal/adminhttp"
	"modbus-bridge/internal/bridgeerr"
	"modbus-bridge/internal/model"
	"modbus-bridge/internal/modem"
	"modbus-bridge/internal/tagstore"
)

type fakeEngine struct {
	devices   []*model.Device
	addErr    error
	removeErr error
	writeErr  error
	lastWrite [3]string
}

func (e *fakeEngine) AddDevice(d *model.Device) (*model.Device, error) {
	if e.addErr != nil {
		return nil, e.addErr
	}
	d.ID = "generated"
	return d, nil
}
func (e *fakeEngine) RemoveDevice(id string) error { return e.removeErr }
func (e *fakeEngine) WriteTag(deviceID, tag, raw string) error {
	e.lastWrite = [3]string{deviceID, tag, raw}
	return e.writeErr
}
func (e *fakeEngine) Devices() []*model.Device { return e.devices }

type fakeConnections struct{}

func (fakeConnections) List() []modem.Connection {
	return []modem.Connection{{RemoteAddr: "1.2.3.4:555", ListenPort: 8000, Connected: true}}
}

func TestGetDevicesReturnsJSON(t *testing.T) {
	eng := &fakeEngine{devices: []*model.Device{{ID: "d1", Name: "Line 1"}}}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []model.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
}

func TestPostDeviceCreates(t *testing.T) {
	eng := &fakeEngine{}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	payload := []byte(`{"name":"Line 1","type":"tcp","tags":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestPostDeviceSurfacesValidationError(t *testing.T) {
	eng := &fakeEngine{addErr: bridgeerr.New(bridgeerr.ValidationFailed, "validate", "no tags")}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	req := httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewReader([]byte(`{"name":"x"}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDeviceNotFound(t *testing.T) {
	eng := &fakeEngine{removeErr: bridgeerr.New(bridgeerr.NotFound, "removeDevice", "no such device x")}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	req := httptest.NewRequest(http.MethodDelete, "/api/devices/x", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteTagDelegatesAndSurfacesNotWritable(t *testing.T) {
	eng := &fakeEngine{writeErr: bridgeerr.New(bridgeerr.NotWritable, "writeTag", "tag t is not writable")}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	payload := []byte(`{"deviceId":"d1","tagName":"t","value":"5"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/write", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, [3]string{"d1", "t", "5"}, eng.lastWrite)
}

func TestGetConnections(t *testing.T) {
	eng := &fakeEngine{}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []modem.Connection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
}

func TestHealthEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	store := tagstore.New()
	srv := adminhttp.New(zap.NewNop(), eng, store, fakeConnections{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
