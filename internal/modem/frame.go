package modem

import (
	"encoding/binary"
	"fmt"
	"io"
)

// mbapHeader is the 7-byte Modbus/TCP header: transactionId, protocolId
// (always 0), length (bytes following, i.e. unitId+PDU), unitId.
type mbapHeader struct {
	transactionID uint16
	protocolID    uint16
	length        uint16
	unitID        byte
}

// readHoldingRequest is a parsed FC03 request.
type readHoldingRequest struct {
	header       mbapHeader
	functionCode byte
	startAddress uint16
	quantity     uint16
}

// readRequest reads one Modbus/TCP frame off conn: the 7-byte MBAP header
// followed by whatever the header's length field says follows it. Only
// the single FC03 shape this responder understands is decoded further.
func readRequest(r io.Reader) (*readHoldingRequest, error) {
	var buf [7]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	h := mbapHeader{
		transactionID: binary.BigEndian.Uint16(buf[0:2]),
		protocolID:    binary.BigEndian.Uint16(buf[2:4]),
		length:        binary.BigEndian.Uint16(buf[4:6]),
		unitID:        buf[6],
	}
	if h.length < 1 {
		return nil, fmt.Errorf("modem: malformed frame: length %d too small", h.length)
	}

	pdu := make([]byte, h.length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, err
	}
	if len(pdu) == 0 {
		return nil, fmt.Errorf("modem: malformed frame: empty PDU")
	}

	req := &readHoldingRequest{header: h, functionCode: pdu[0]}
	if req.functionCode == 0x03 {
		if len(pdu) < 5 {
			return nil, fmt.Errorf("modem: malformed FC03 request: short PDU")
		}
		req.startAddress = binary.BigEndian.Uint16(pdu[1:3])
		req.quantity = binary.BigEndian.Uint16(pdu[3:5])
	}
	return req, nil
}

// encodeReadHoldingResponse builds the MBAP+PDU bytes for a successful
// FC03 response carrying payload (2 or 4 bytes, depending on the tag's data type).
func encodeReadHoldingResponse(h mbapHeader, payload []byte) []byte {
	byteCount := byte(len(payload))
	length := uint16(1 + 1 + 1 + len(payload)) // unitId + fc + byteCount + payload

	out := make([]byte, 7+2+len(payload))
	binary.BigEndian.PutUint16(out[0:2], h.transactionID)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], length)
	out[6] = h.unitID
	out[7] = 0x03
	out[8] = byteCount
	copy(out[9:], payload)
	return out
}
