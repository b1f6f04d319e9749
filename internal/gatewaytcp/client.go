package gatewaytcp

import (
	"bufio"
	"errors"
	"net"

	"github.com/vtscanister/vts/internal/vts"
)

// Conn is the firmware-side half of the protocol: one persistent connection
// over which StoreTelemetry requests are sent and responses read back.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial opens a persistent connection to the gateway at addr.
func Dial(addr string) (*Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// SendTelemetry writes one StoreTelemetry frame and blocks for the
// single-byte response.
func (c *Conn) SendTelemetry(vehicleID vts.Principal, payload, signature []byte) (turnOn bool, err error) {
	frame := EncodeRequest(StoreTelemetryRequest{VehicleID: [29]byte(vehicleID), Payload: payload, Signature: signature})
	if _, err := c.conn.Write(frame); err != nil {
		return false, err
	}
	b, err := c.reader.ReadByte()
	if err != nil {
		return false, err
	}
	switch ResponseTag(b) {
	case ResponseTurnOn:
		return true, nil
	case ResponseTurnOff:
		return false, nil
	default:
		return false, errors.New("gatewaytcp: unrecognised response tag")
	}
}
