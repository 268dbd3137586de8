package modem

import (
	"io"
	"math"
	"net"

	"go.uber.org/zap"

	"modbus-bridge/internal/model"
	"modbus-bridge/internal/tagstore"
)

// TagReader is the subset of tagstore.Store a modem session needs to
// answer reads from cached values.
type TagReader interface {
	Get(deviceID, tagName string) (tagstore.Entry, bool)
}

// Router resolves the unique tcp-modem device bound to a (listen-port,
// unit-id) pair.
type Router interface {
	Route(listenPort int, unitID byte) (*model.Device, bool)
}

// session services one accepted modem connection until it closes or a
// read error occurs. Requests are handled synchronously, one frame at a
// time; each connection gets its own goroutine since sessions never
// share mutable state.
type session struct {
	conn       net.Conn
	listenPort int
	router     Router
	store      TagReader
	registry   *Registry
	logger     *zap.Logger
	recorder   Recorder
}

func (s *session) serve() {
	remote := s.conn.RemoteAddr().String()
	s.registry.add(remote, s.listenPort)
	defer func() {
		s.registry.remove(remote, s.listenPort)
		s.conn.Close()
	}()

	for {
		req, err := readRequest(s.conn)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("modem session read error",
					zap.String("remote", remote), zap.Int("port", s.listenPort), zap.Error(err))
			}
			return
		}

		device, ok := s.router.Route(s.listenPort, req.header.unitID)
		if !ok {
			// No matching device: drop the frame silently, session continues.
			s.dropped()
			continue
		}

		if req.functionCode != 0x03 {
			// Other function codes are not answered in this version.
			s.dropped()
			continue
		}

		tag := device.FindTagByAddress(req.startAddress)
		if tag == nil {
			s.dropped()
			continue
		}

		entry, ok := s.store.Get(device.ID, tag.Name)
		if !ok {
			s.dropped()
			continue
		}

		payload := encodeValuePayload(entry.Value, tag.DataType)
		resp := encodeReadHoldingResponse(req.header, payload)
		if _, err := s.conn.Write(resp); err != nil {
			s.logger.Debug("modem session write error",
				zap.String("remote", remote), zap.Int("port", s.listenPort), zap.Error(err))
			return
		}
	}
}

func (s *session) dropped() {
	if s.recorder != nil {
		s.recorder.ObserveModemFrameDropped()
	}
}

// encodeValuePayload builds the FC03 response payload:
// 4 big-endian bytes of the float for float tags, otherwise 2 big-endian
// bytes of round(value) as an unsigned 16-bit integer.
func encodeValuePayload(v model.Value, dt model.DataType) []byte {
	if dt == model.DataTypeFloat {
		bits := math.Float32bits(v.Float)
		return []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
	}
	rounded := uint16(math.Round(v.Float64()))
	return []byte{byte(rounded >> 8), byte(rounded)}
}
