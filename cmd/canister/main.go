// Command canister runs the state canister process: the persistent store of
// users, vehicles, agreements, telemetry and invoices, served over the
// internal RPC protocol to the gateway and any other authorised caller.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vtscanister/vts/internal/canister"
	"github.com/vtscanister/vts/internal/config"
	"github.com/vtscanister/vts/internal/ledgerclient"
	"github.com/vtscanister/vts/internal/logging"
	"github.com/vtscanister/vts/internal/rpcserver"
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscrypto"
)

func main() {
	root := &cobra.Command{Use: "canister"}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the canister's RPC server until interrupted",
		RunE:  runStart,
	}
	cmd.Flags().String("config", "", "path to a canister config file (optional)")
	cmd.Flags().String("key-file", "", "path to this canister's identity key file (overrides config)")
	cmd.Flags().String("log-level", "info", "logrus level")
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultCanister()
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.Load("VTS_CANISTER", configPath, &cfg); err != nil {
		return fmt.Errorf("loading canister config: %w", err)
	}

	level, _ := cmd.Flags().GetString("log-level")
	if viper.GetString("logging.level") != "" {
		level = viper.GetString("logging.level")
	}
	logging.Setup(level)

	keyFile, _ := cmd.Flags().GetString("key-file")
	if keyFile == "" {
		keyFile = cfg.KeyFile
	}
	priv, err := vtscrypto.LoadOrCreateKeyFile(keyFile)
	if err != nil {
		return fmt.Errorf("loading canister identity: %w", err)
	}
	der, err := vtscrypto.EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		return fmt.Errorf("encoding canister identity: %w", err)
	}
	self := vts.SelfAuthenticatingPrincipal(der)
	logrus.WithField("principal", self.String()).Info("canister: identity loaded")

	ledger := ledgerclient.NewMock()
	if cfg.LedgerAddr != "" {
		logrus.WithField("ledger_addr", cfg.LedgerAddr).Warn("canister: external ledger wiring is out of scope, falling back to an in-memory mock")
	}

	state, err := canister.New(cfg.DBPath, self, ledger, nil)
	if err != nil {
		return fmt.Errorf("opening canister state: %w", err)
	}
	defer state.Close()

	srv, err := rpcserver.Listen(cfg.RPCListen, state)
	if err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	logrus.WithField("addr", srv.Addr().String()).Info("canister: rpc server listening")

	stopAccum := make(chan struct{})
	accumDone := make(chan struct{})
	go runAccumulationTicker(state, self, stopAccum, accumDone)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server stopped: %w", err)
		}
	case <-sig:
		logrus.Info("canister: shutdown signal received")
	}

	close(stopAccum)
	<-accumDone

	done := make(chan struct{})
	go func() { _ = srv.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logrus.Warn("canister: graceful shutdown window exceeded")
	}
	return nil
}

// runAccumulationTicker drives accumulate_telemetry_data once a day. A
// second run on the same first-of-month day creates no duplicate invoices.
// Invoices are only created by a run that falls on the first of a month;
// a run on any other day folds telemetry and bills nothing.
func runAccumulationTicker(state *canister.State, self vts.Principal, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := state.AccumulateTelemetryData(self); err != nil {
				logrus.WithError(err).Error("canister: accumulate_telemetry_data failed")
			}
		}
	}
}
