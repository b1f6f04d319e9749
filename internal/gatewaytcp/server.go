package gatewaytcp

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vtscanister/vts/internal/vts"
)

// TelemetryForwarder is the one call the gateway needs to serve a
// StoreTelemetry frame; rpcclient.Client satisfies it. Kept as a narrow
// interface so the server can be tested without a real canister connection.
type TelemetryForwarder interface {
	StoreTelemetry(ctx context.Context, vehicleID vts.Principal, payload, signature []byte) (turnOn bool, err error)
}

// Server accepts firmware connections and serves StoreTelemetry requests
// off one goroutine per connection, matching the design's "one task per
// accepted TCP connection" gateway concurrency model; tasks share only an
// immutable handle to the forwarder.
type Server struct {
	ln        net.Listener
	forwarder TelemetryForwarder

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts accepting firmware connections on addr.
func Listen(addr string, forwarder TelemetryForwarder) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, forwarder: forwarder, closing: make(chan struct{})}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections, then blocks until every open
// connection has been closed by its client; open connections keep being
// served until then. The bounded graceful-shutdown window is enforced by
// the caller wrapping this in a timer.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.ln.Close()
	})
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := newFrameScanner(conn)
	for scanner.Scan() {
		req, err := DecodeRequest(scanner.Bytes())
		if err != nil {
			logrus.WithError(err).Warn("gatewaytcp: malformed frame, closing connection")
			return
		}
		vehicleID := vts.Principal(req.VehicleID)
		turnOn, err := s.forwarder.StoreTelemetry(context.Background(), vehicleID, req.Payload, req.Signature)
		if err != nil {
			logrus.WithError(err).WithField("vehicle", vehicleID.String()).Warn("gatewaytcp: store_telemetry failed")
			// The wire protocol has no error response variant; per the design
			// only TurnOn/TurnOff are ever sent back. A rejected sample simply
			// gets the off instruction.
			if _, err := conn.Write(EncodeResponse(ResponseTurnOff)); err != nil {
				return
			}
			continue
		}
		resp := ResponseTurnOff
		if turnOn {
			resp = ResponseTurnOn
		}
		if _, err := conn.Write(EncodeResponse(resp)); err != nil {
			return
		}
	}
}
