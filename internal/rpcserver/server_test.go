package rpcserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vtscanister/vts/internal/canister"
	"github.com/vtscanister/vts/internal/ledgerclient"
	"github.com/vtscanister/vts/internal/rpcclient"
	"github.com/vtscanister/vts/internal/vts"
)

func startTestServer(t *testing.T) (*rpcclient.Client, vts.Principal) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	self := vts.Principal{1}
	state, err := canister.New(dbPath, self, ledgerclient.NewMock(), nil)
	if err != nil {
		t.Fatalf("canister.New: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	srv, err := Listen("127.0.0.1:0", state)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	client := rpcclient.New(srv.Addr().String(), time.Second)
	t.Cleanup(func() { client.Close() })
	return client, self
}

func TestRPCRoundTripBootstrapAdminAndRegisterUser(t *testing.T) {
	client, self := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	admin := vts.Principal{2}
	if err := client.AddAdmin(ctx, admin, admin); err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}

	user := vts.Principal{3}
	email := "driver@example.com"
	if err := client.RegisterUser(ctx, admin, user, &email); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	got, err := client.GetUser(ctx, user)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Email == nil || *got.Email != email {
		t.Fatalf("GetUser email = %v, want %q", got.Email, email)
	}

	_ = self
}

func TestRPCErrorsTranslateToVTSErrorKind(t *testing.T) {
	client, _ := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.GetUser(ctx, vts.Principal{99})
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
	if vts.KindOf(err) != vts.ErrNotFound {
		t.Fatalf("KindOf(err) = %v, want NotFound", vts.KindOf(err))
	}
}
