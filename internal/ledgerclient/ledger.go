// Package ledgerclient defines the canister's one outbound dependency: the
// external fungible-token ledger invoice payment settles against. The ledger
// itself is out of scope for this system; only the call shape is specified.
package ledgerclient

import (
	"context"
	"errors"
	"sync"

	"github.com/vtscanister/vts/internal/vts"
)

// Ledger issues a transfer-from call on behalf of an invoice payer. It is the
// only outbound call canister handlers make, and the only suspension point
// in the whole system (see pay_for_invoice).
type Ledger interface {
	TransferFrom(ctx context.Context, from, to vts.Principal, amount vts.U128) error
}

// ErrTransferFailed is returned by mock/test ledgers to simulate a
// transport or ledger-reported failure; pay_for_invoice maps any such error
// to the Internal error kind and leaves the invoice Unpaid.
var ErrTransferFailed = errors.New("ledgerclient: transfer failed")

// Mock is an in-memory Ledger for tests and local development. It can be
// configured to fail the next N transfers, letting tests exercise
// pay_for_invoice's failure path without a real ledger.
type Mock struct {
	mu          sync.Mutex
	failNext    int
	Transfers   []Transfer
}

// Transfer records one call into the mock ledger.
type Transfer struct {
	From, To vts.Principal
	Amount   vts.U128
}

// NewMock returns a Mock ledger that succeeds by default.
func NewMock() *Mock { return &Mock{} }

// FailNext makes the next n calls to TransferFrom return ErrTransferFailed.
func (m *Mock) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// TransferFrom implements Ledger.
func (m *Mock) TransferFrom(_ context.Context, from, to vts.Principal, amount vts.U128) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return ErrTransferFailed
	}
	m.Transfers = append(m.Transfers, Transfer{From: from, To: to, Amount: amount})
	return nil
}
