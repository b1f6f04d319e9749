// Package rpcclient is the gateway-side client for rpcproto: a thin,
// synchronous call/response wrapper around a persistent TCP connection to
// the canister's rpcserver, grounded on the pack's Dialer/ConnPool idiom for
// timeouts and reconnection.
package rpcclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/vtscanister/vts/internal/rpcproto"
	"github.com/vtscanister/vts/internal/vts"
)

// Client serialises calls onto one persistent connection, reconnecting on
// the next call after any I/O error — the canister's own state changes are
// already serialised one-handler-at-a-time, so a single client connection
// per gateway process is sufficient and keeps frame interleaving trivial.
type Client struct {
	addr   string
	dialer net.Dialer
	mu     sync.Mutex
	conn   net.Conn
}

// New returns a Client that dials addr lazily, on the first call.
func New(addr string, dialTimeout time.Duration) *Client {
	return &Client{addr: addr, dialer: net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) ensureConn(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// call issues one request/response round trip, translating a Response error
// back into a *vts.Error so callers see the same error kinds a direct
// in-process call would return.
func (c *Client) call(ctx context.Context, op rpcproto.Op, args interface{}, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	argsBlob, err := rpcproto.Encode(args)
	if err != nil {
		return vts.NewError(vts.ErrInternal, "encoding request: %v", err)
	}
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return vts.NewError(vts.ErrInternal, "dialing canister: %v", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	req := rpcproto.Request{Op: op, Args: argsBlob}
	if err := rpcproto.WriteFrame(conn, req); err != nil {
		c.dropConn()
		return vts.NewError(vts.ErrInternal, "writing request: %v", err)
	}
	var resp rpcproto.Response
	if err := rpcproto.ReadFrame(conn, &resp); err != nil {
		c.dropConn()
		return vts.NewError(vts.ErrInternal, "reading response: %v", err)
	}
	if !resp.OK {
		return &vts.Error{Kind: vts.ErrorKind(resp.ErrKind), Detail: resp.ErrDetail}
	}
	if result == nil {
		return nil
	}
	if err := rpcproto.Decode(resp.Result, result); err != nil {
		return vts.NewError(vts.ErrInternal, "decoding response: %v", err)
	}
	return nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// AddAdmin adds target to the admin set (bootstrap, or is_admin(caller)).
func (c *Client) AddAdmin(ctx context.Context, caller, target vts.Principal) error {
	return c.call(ctx, rpcproto.OpAddAdmin, rpcproto.AddAdminArgs{Caller: caller, Target: target}, nil)
}

// DeleteAdmin removes target from the admin set.
func (c *Client) DeleteAdmin(ctx context.Context, caller, target vts.Principal) error {
	return c.call(ctx, rpcproto.OpDeleteAdmin, rpcproto.DeleteAdminArgs{Caller: caller, Target: target}, nil)
}

// RegisterUser creates a new user record.
func (c *Client) RegisterUser(ctx context.Context, caller, target vts.Principal, email *string) error {
	return c.call(ctx, rpcproto.OpRegisterUser, rpcproto.RegisterUserArgs{Caller: caller, Target: target, Email: email}, nil)
}

// DeleteUser removes a user record.
func (c *Client) DeleteUser(ctx context.Context, caller, target vts.Principal) error {
	return c.call(ctx, rpcproto.OpDeleteUser, rpcproto.DeleteUserArgs{Caller: caller, Target: target}, nil)
}

// GetUser returns the caller's own user record.
func (c *Client) GetUser(ctx context.Context, caller vts.Principal) (vts.User, error) {
	var res rpcproto.GetUserResult
	if err := c.call(ctx, rpcproto.OpGetUser, rpcproto.GetUserArgs{Caller: caller}, &res); err != nil {
		return vts.User{}, err
	}
	return res.User, nil
}

// RequestFirmware files a firmware request for caller.
func (c *Client) RequestFirmware(ctx context.Context, caller vts.Principal) error {
	return c.call(ctx, rpcproto.OpRequestFirmware, rpcproto.RequestFirmwareArgs{Caller: caller}, nil)
}

// GetFirmwareRequestsByUser reports whether caller has an outstanding firmware request.
func (c *Client) GetFirmwareRequestsByUser(ctx context.Context, caller vts.Principal) error {
	return c.call(ctx, rpcproto.OpGetFirmwareRequestsByUser, rpcproto.GetFirmwareRequestsByUserArgs{Caller: caller}, nil)
}

// CreateAgreement creates a new agreement and returns its id.
func (c *Client) CreateAgreement(ctx context.Context, caller vts.Principal, name string, vhCustomer vts.Principal, gasPrice string) (vts.U128, error) {
	var res rpcproto.CreateAgreementResult
	args := rpcproto.CreateAgreementArgs{Caller: caller, Name: name, VhCustomer: vhCustomer, GasPrice: gasPrice}
	if err := c.call(ctx, rpcproto.OpCreateAgreement, args, &res); err != nil {
		return vts.U128{}, err
	}
	return res.ID, nil
}

// SignAgreement signs the agreement on behalf of caller.
func (c *Client) SignAgreement(ctx context.Context, caller vts.Principal, id vts.U128) error {
	return c.call(ctx, rpcproto.OpSignAgreement, rpcproto.SignAgreementArgs{Caller: caller, ID: id}, nil)
}

// LinkVehicle attaches vehicleID to agreementID.
func (c *Client) LinkVehicle(ctx context.Context, caller vts.Principal, agreementID vts.U128, vehicleID vts.Principal) error {
	args := rpcproto.LinkVehicleArgs{Caller: caller, AgreementID: agreementID, VehicleID: vehicleID}
	return c.call(ctx, rpcproto.OpLinkVehicle, args, nil)
}

// GetUserAgreements returns every agreement caller is party to.
func (c *Client) GetUserAgreements(ctx context.Context, caller vts.Principal) ([]vts.Agreement, error) {
	var res rpcproto.GetUserAgreementsResult
	if err := c.call(ctx, rpcproto.OpGetUserAgreements, rpcproto.GetUserAgreementsArgs{Caller: caller}, &res); err != nil {
		return nil, err
	}
	return res.Agreements, nil
}

// GetVehicle returns a vehicle record, subject to ownership guards.
func (c *Client) GetVehicle(ctx context.Context, caller, id vts.Principal) (vts.Vehicle, error) {
	var res rpcproto.GetVehicleResult
	if err := c.call(ctx, rpcproto.OpGetVehicle, rpcproto.GetVehicleArgs{Caller: caller, ID: id}, &res); err != nil {
		return vts.Vehicle{}, err
	}
	return res.Vehicle, nil
}

// TurnOnOffVehicle forces a vehicle's power state.
func (c *Client) TurnOnOffVehicle(ctx context.Context, caller, id vts.Principal, on bool) error {
	return c.call(ctx, rpcproto.OpTurnOnOffVehicle, rpcproto.TurnOnOffVehicleArgs{Caller: caller, ID: id, On: on}, nil)
}

// GetVehiclesByAgreement returns every vehicle linked to an agreement.
func (c *Client) GetVehiclesByAgreement(ctx context.Context, caller vts.Principal, id vts.U128) ([]vts.Principal, error) {
	var res rpcproto.GetVehiclesByAgreementResult
	if err := c.call(ctx, rpcproto.OpGetVehiclesByAgreement, rpcproto.GetVehiclesByAgreementArgs{Caller: caller, ID: id}, &res); err != nil {
		return nil, err
	}
	return res.Vehicles, nil
}

// GetAggregatedData returns a vehicle's accumulated telemetry tree.
func (c *Client) GetAggregatedData(ctx context.Context, caller, id vts.Principal) (vts.AccumTree, error) {
	var res rpcproto.GetAggregatedDataResult
	if err := c.call(ctx, rpcproto.OpGetAggregatedData, rpcproto.GetAggregatedDataArgs{Caller: caller, ID: id}, &res); err != nil {
		return nil, err
	}
	return res.Tree, nil
}

// GetInvoice returns an invoice, subject to ownership guards.
func (c *Client) GetInvoice(ctx context.Context, caller vts.Principal, id vts.U128) (vts.Invoice, error) {
	var res rpcproto.GetInvoiceResult
	if err := c.call(ctx, rpcproto.OpGetInvoice, rpcproto.GetInvoiceArgs{Caller: caller, ID: id}, &res); err != nil {
		return vts.Invoice{}, err
	}
	return res.Invoice, nil
}

// PayForInvoice settles an invoice via the ledger.
func (c *Client) PayForInvoice(ctx context.Context, caller vts.Principal, id vts.U128) error {
	return c.call(ctx, rpcproto.OpPayForInvoice, rpcproto.PayForInvoiceArgs{Caller: caller, ID: id}, nil)
}

// GetFirmwareRequests returns one outstanding firmware request, or NotFound.
func (c *Client) GetFirmwareRequests(ctx context.Context, caller vts.Principal) (vts.Principal, error) {
	var res rpcproto.GetFirmwareRequestsResult
	if err := c.call(ctx, rpcproto.OpGetFirmwareRequests, rpcproto.GetFirmwareRequestsArgs{Caller: caller}, &res); err != nil {
		return vts.Principal{}, err
	}
	return res.Customer, nil
}

// UploadFirmware uploads a freshly built firmware image for customer.
func (c *Client) UploadFirmware(ctx context.Context, caller, customer vts.Principal, publicKey []byte, arch string, firmware []byte) error {
	args := rpcproto.UploadFirmwareArgs{Caller: caller, Customer: customer, PublicKey: publicKey, Arch: arch, Firmware: firmware}
	return c.call(ctx, rpcproto.OpUploadFirmware, args, nil)
}

// StoreTelemetry forwards one signed telemetry sample, returning whether the
// vehicle should be told to turn on.
func (c *Client) StoreTelemetry(ctx context.Context, vehicleID vts.Principal, payload, signature []byte) (bool, error) {
	var res rpcproto.StoreTelemetryResult
	args := rpcproto.StoreTelemetryArgs{VehicleID: vehicleID, Payload: payload, Signature: signature}
	if err := c.call(ctx, rpcproto.OpStoreTelemetry, args, &res); err != nil {
		return false, err
	}
	return res.TurnOn, nil
}

// GetPendingInvoices returns the pending-invoice notification queue.
func (c *Client) GetPendingInvoices(ctx context.Context, caller vts.Principal) ([]rpcproto.InvoiceNotification, error) {
	var res rpcproto.InvoicesResult
	if err := c.call(ctx, rpcproto.OpGetPendingInvoices, rpcproto.InvoicesArgs{Caller: caller}, &res); err != nil {
		return nil, err
	}
	return res.Invoices, nil
}

// GetPaidInvoices returns the paid-invoice notification queue.
func (c *Client) GetPaidInvoices(ctx context.Context, caller vts.Principal) ([]rpcproto.InvoiceNotification, error) {
	var res rpcproto.InvoicesResult
	if err := c.call(ctx, rpcproto.OpGetPaidInvoices, rpcproto.InvoicesArgs{Caller: caller}, &res); err != nil {
		return nil, err
	}
	return res.Invoices, nil
}

// DeletePendingInvoices removes ids from the pending queue.
func (c *Client) DeletePendingInvoices(ctx context.Context, caller vts.Principal, ids []vts.U128) error {
	return c.call(ctx, rpcproto.OpDeletePendingInvoices, rpcproto.DeleteInvoicesArgs{Caller: caller, IDs: ids}, nil)
}

// DeletePaidInvoices removes ids from the paid queue.
func (c *Client) DeletePaidInvoices(ctx context.Context, caller vts.Principal, ids []vts.U128) error {
	return c.call(ctx, rpcproto.OpDeletePaidInvoices, rpcproto.DeleteInvoicesArgs{Caller: caller, IDs: ids}, nil)
}

// AccumulateTelemetryData triggers the fold-and-bill handler. Guarded
// is_canister: only useful to a caller that is the canister's own
// principal, so in practice only cmd/canister's internal ticker calls this,
// and it calls the in-process State method directly rather than through
// this RPC hop. Exposed here for completeness and for operator tooling
// running colocated with the canister under its identity.
func (c *Client) AccumulateTelemetryData(ctx context.Context, caller vts.Principal) error {
	return c.call(ctx, rpcproto.OpAccumulateTelemetryData, rpcproto.AccumulateTelemetryDataArgs{Caller: caller}, nil)
}
