// Package rpcserver exposes a canister.State over the rpcproto wire
// protocol: the process boundary every direct caller (gateway, admin
// tooling) crosses to reach the canister's operations.
package rpcserver

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vtscanister/vts/internal/canister"
	"github.com/vtscanister/vts/internal/rpcproto"
	"github.com/vtscanister/vts/internal/vts"
)

// Server accepts connections and dispatches rpcproto requests against one
// canister.State. Each accepted connection is served by its own goroutine;
// the state itself enforces the single-logical-thread model internally
// (every handler is one store transaction), so concurrent connections are
// safe without an extra server-side lock.
type Server struct {
	ln    net.Listener
	state *canister.State

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts accepting connections on addr.
func Listen(addr string, state *canister.State) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, state: state, closing: make(chan struct{})}, nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
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
// served until then.
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

	connID := uuid.NewString()
	log := logrus.WithField("conn", connID)
	log.Debug("rpcserver: connection accepted")
	for {
		var req rpcproto.Request
		if err := rpcproto.ReadFrame(conn, &req); err != nil {
			return // client closed, or a framing error: drop the connection
		}
		resp := s.dispatch(req)
		if !resp.OK {
			log.WithField("op", req.Op).WithField("err_kind", resp.ErrKind).Debug("rpcserver: op failed")
		}
		if err := rpcproto.WriteFrame(conn, resp); err != nil {
			log.WithError(err).Warn("rpcserver: failed writing response")
			return
		}
	}
}

func errorResponse(err error) rpcproto.Response {
	detail := err.Error()
	if ve, ok := err.(*vts.Error); ok {
		detail = ve.Detail
	}
	return rpcproto.Response{OK: false, ErrKind: string(vts.KindOf(err)), ErrDetail: detail}
}

func okResponse(result interface{}) rpcproto.Response {
	if result == nil {
		return rpcproto.Response{OK: true}
	}
	blob, err := rpcproto.Encode(result)
	if err != nil {
		return errorResponse(vts.NewError(vts.ErrInternal, "encoding result: %v", err))
	}
	return rpcproto.Response{OK: true, Result: blob}
}

func (s *Server) dispatch(req rpcproto.Request) rpcproto.Response {
	switch req.Op {
	case rpcproto.OpAddAdmin:
		var a rpcproto.AddAdminArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.AddAdmin(a.Caller, a.Target); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpDeleteAdmin:
		var a rpcproto.DeleteAdminArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.DeleteAdmin(a.Caller, a.Target); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpRegisterUser:
		var a rpcproto.RegisterUserArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.RegisterUser(a.Caller, a.Target, a.Email); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpDeleteUser:
		var a rpcproto.DeleteUserArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.DeleteUser(a.Caller, a.Target); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetUser:
		var a rpcproto.GetUserArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		u, err := s.state.GetUser(a.Caller)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.GetUserResult{User: *u})

	case rpcproto.OpRequestFirmware:
		var a rpcproto.RequestFirmwareArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.RequestFirmware(a.Caller); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetFirmwareRequests:
		var a rpcproto.GetFirmwareRequestsArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		customer, err := s.state.GetFirmwareRequests(a.Caller)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.GetFirmwareRequestsResult{Customer: customer})

	case rpcproto.OpGetFirmwareRequestsByUser:
		var a rpcproto.GetFirmwareRequestsByUserArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.GetFirmwareRequestsByUser(a.Caller); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpUploadFirmware:
		var a rpcproto.UploadFirmwareArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.UploadFirmware(a.Caller, a.Customer, a.PublicKey, a.Arch, a.Firmware); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpCreateAgreement:
		var a rpcproto.CreateAgreementArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		id, err := s.state.CreateAgreement(a.Caller, a.Name, a.VhCustomer, a.GasPrice)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.CreateAgreementResult{ID: id})

	case rpcproto.OpSignAgreement:
		var a rpcproto.SignAgreementArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.SignAgreement(a.Caller, a.ID); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpLinkVehicle:
		var a rpcproto.LinkVehicleArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.LinkVehicle(a.Caller, a.AgreementID, a.VehicleID); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetUserAgreements:
		var a rpcproto.GetUserAgreementsArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		agreements, err := s.state.GetUserAgreements(a.Caller)
		if err != nil {
			return errorResponse(err)
		}
		out := make([]vts.Agreement, len(agreements))
		for i, ag := range agreements {
			out[i] = *ag
		}
		return okResponse(rpcproto.GetUserAgreementsResult{Agreements: out})

	case rpcproto.OpGetVehicle:
		var a rpcproto.GetVehicleArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		v, err := s.state.GetVehicle(a.Caller, a.ID)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.GetVehicleResult{Vehicle: *v})

	case rpcproto.OpTurnOnOffVehicle:
		var a rpcproto.TurnOnOffVehicleArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.TurnOnOffVehicle(a.Caller, a.ID, a.On); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetVehiclesByAgreement:
		var a rpcproto.GetVehiclesByAgreementArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		set, err := s.state.GetVehiclesByAgreement(a.Caller, a.ID)
		if err != nil {
			return errorResponse(err)
		}
		out := make([]vts.Principal, 0, len(set))
		for id := range set {
			out = append(out, id)
		}
		return okResponse(rpcproto.GetVehiclesByAgreementResult{Vehicles: out})

	case rpcproto.OpGetAggregatedData:
		var a rpcproto.GetAggregatedDataArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		tree, err := s.state.GetAggregatedData(a.Caller, a.ID)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.GetAggregatedDataResult{Tree: tree})

	case rpcproto.OpStoreTelemetry:
		var a rpcproto.StoreTelemetryArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		resp, err := s.state.StoreTelemetry(a.VehicleID, a.Payload, a.Signature)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.StoreTelemetryResult{TurnOn: resp == canister.TurnOn})

	case rpcproto.OpAccumulateTelemetryData:
		var a rpcproto.AccumulateTelemetryDataArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.AccumulateTelemetryData(a.Caller); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetInvoice:
		var a rpcproto.GetInvoiceArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		inv, err := s.state.GetInvoice(a.Caller, a.ID)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.GetInvoiceResult{Invoice: *inv})

	case rpcproto.OpPayForInvoice:
		var a rpcproto.PayForInvoiceArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		// The dispatch loop is per-connection, not per-handler: PayForInvoice's
		// own suspension (the ledger call) blocks only this connection's
		// goroutine, matching the single-suspension-point model at the
		// canister.State level while still letting other connections proceed.
		if err := s.state.PayForInvoice(context.Background(), a.Caller, a.ID); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpGetPendingInvoices:
		var a rpcproto.InvoicesArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		list, err := s.state.GetPendingInvoices(a.Caller)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.InvoicesResult{Invoices: convertInvoiceNotifications(list)})

	case rpcproto.OpGetPaidInvoices:
		var a rpcproto.InvoicesArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		list, err := s.state.GetPaidInvoices(a.Caller)
		if err != nil {
			return errorResponse(err)
		}
		return okResponse(rpcproto.InvoicesResult{Invoices: convertInvoiceNotifications(list)})

	case rpcproto.OpDeletePendingInvoices:
		var a rpcproto.DeleteInvoicesArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.DeletePendingInvoices(a.Caller, a.IDs); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	case rpcproto.OpDeletePaidInvoices:
		var a rpcproto.DeleteInvoicesArgs
		if err := rpcproto.Decode(req.Args, &a); err != nil {
			return errorResponse(vts.NewError(vts.ErrInternal, "decoding args: %v", err))
		}
		if err := s.state.DeletePaidInvoices(a.Caller, a.IDs); err != nil {
			return errorResponse(err)
		}
		return okResponse(nil)

	default:
		return errorResponse(vts.NewError(vts.ErrInternal, "unknown RPC op %d", req.Op))
	}
}

func convertInvoiceNotifications(in []canister.InvoiceNotification) []rpcproto.InvoiceNotification {
	out := make([]rpcproto.InvoiceNotification, len(in))
	for i, n := range in {
		out[i] = rpcproto.InvoiceNotification{ID: n.ID, CustomerEmail: n.CustomerEmail, Vehicle: n.Vehicle}
	}
	return out
}
