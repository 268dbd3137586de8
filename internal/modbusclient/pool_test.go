package modbusclient_test

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"modbus-bridge/internal/model"
	"modbus-bridge/internal/modbusclient"
)

// fakeModbusTCPServer answers exactly one Modbus/TCP request with a fixed
// register payload, enough to exercise the client pool's dial+read path
// without depending on the listener-bank code under test elsewhere.
func fakeModbusTCPServer(t *testing.T, registerWords []uint16) (port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, 7)
		if _, err := readFull(conn, header); err != nil {
			return
		}
		pdu := make([]byte, 5) // fc(1) + start(2) + qty(2)
		if _, err := readFull(conn, pdu); err != nil {
			return
		}

		byteCount := byte(len(registerWords) * 2)
		resp := make([]byte, 0, 9+len(registerWords)*2)
		resp = append(resp, header[0], header[1], 0, 0) // tx, proto
		length := uint16(2 + 1 + byteCount)
		lb := make([]byte, 2)
		binary.BigEndian.PutUint16(lb, length)
		resp = append(resp, lb...)
		resp = append(resp, header[6])   // unit id
		resp = append(resp, pdu[0])      // function code
		resp = append(resp, byteCount)
		for _, w := range registerWords {
			resp = append(resp, byte(w>>8), byte(w))
		}
		conn.Write(resp)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.Port, func() { ln.Close() }
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestEnsureConnectedAndReadHoldingRegister(t *testing.T) {
	port, stop := fakeModbusTCPServer(t, []uint16{0x0041})
	defer stop()

	logger := zap.NewNop()
	pool := modbusclient.New(logger)
	device := &model.Device{ID: "d1", Type: model.DeviceTCP, Address: "127.0.0.1", Port: port, DeviceID: 1}
	pool.Add(device)

	require.NoError(t, pool.EnsureConnected("d1"))
	require.True(t, pool.IsConnected("d1"))

	tag := &model.Tag{Name: "t", Address: 100, RegisterType: model.RegisterHolding, DataType: model.DataTypeUint16}
	words, err := pool.ReadRegion("d1", tag)
	require.NoError(t, err)
	require.Len(t, words, 1)
	require.Equal(t, uint16(0x0041), words[0])
}

func TestWriteTagRejectsNonWritable(t *testing.T) {
	logger := zap.NewNop()
	pool := modbusclient.New(logger)
	device := &model.Device{ID: "d1", Type: model.DeviceTCP, Address: "127.0.0.1", Port: 1, DeviceID: 1}
	pool.Add(device)

	tag := &model.Tag{Name: "i", Address: 0, RegisterType: model.RegisterInput, DataType: model.DataTypeUint16}
	err := pool.WriteTag("d1", tag, model.Uint16Value(1))
	require.Error(t, err)
}

func TestEnsureConnectedUnknownDevice(t *testing.T) {
	pool := modbusclient.New(zap.NewNop())
	err := pool.EnsureConnected("nope")
	require.Error(t, err)
}

func TestEnsureConnectedFailureDoesNotBlockForever(t *testing.T) {
	logger := zap.NewNop()
	pool := modbusclient.New(logger)
	// Port 1 should refuse immediately on loopback in CI sandboxes.
	device := &model.Device{ID: "d1", Type: model.DeviceTCP, Address: "127.0.0.1", Port: 1, DeviceID: 1}
	pool.Add(device)

	done := make(chan error, 1)
	go func() { done <- pool.EnsureConnected("d1") }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("EnsureConnected did not return within timeout")
	}
}
