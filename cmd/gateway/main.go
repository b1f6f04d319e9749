// Command gateway runs the bridge between firmware and the canister: it
// terminates firmware TCP connections, forwards telemetry to the canister
// over RPC, and drains outstanding firmware-build requests on a poll loop.
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

	"github.com/vtscanister/vts/internal/config"
	"github.com/vtscanister/vts/internal/firmwarebuild"
	"github.com/vtscanister/vts/internal/gatewaytcp"
	"github.com/vtscanister/vts/internal/logging"
	"github.com/vtscanister/vts/internal/rpcclient"
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscrypto"
)

func main() {
	root := &cobra.Command{Use: "gateway"}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the gateway until interrupted",
		RunE:  runStart,
	}
	cmd.Flags().String("config", "", "path to a gateway config file (optional)")
	cmd.Flags().String("key-file", "", "path to this gateway's identity key file (overrides config)")
	cmd.Flags().String("log-level", "info", "logrus level")
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultGateway()
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.Load("VTS_GATEWAY", configPath, &cfg); err != nil {
		return fmt.Errorf("loading gateway config: %w", err)
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
		return fmt.Errorf("loading gateway identity: %w", err)
	}
	der, err := vtscrypto.EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		return fmt.Errorf("encoding gateway identity: %w", err)
	}
	self := vts.SelfAuthenticatingPrincipal(der)
	logrus.WithField("principal", self.String()).Info("gateway: identity loaded")
	logrus.Warn("gateway: this principal must be added to the canister's gateway allow-list out of band before any is_gateway call will succeed")

	canisterClient := rpcclient.New(cfg.CanisterRPC, 5*time.Second)
	defer canisterClient.Close()

	tcpServer, err := gatewaytcp.Listen(cfg.TCPListen, canisterClient)
	if err != nil {
		return fmt.Errorf("starting firmware tcp server: %w", err)
	}

	pollInterval, err := time.ParseDuration(cfg.FirmwarePoll)
	if err != nil {
		return fmt.Errorf("parsing firmware_poll: %w", err)
	}
	poller := firmwarebuild.NewPoller(canisterClient, self, cfg.Arch, cfg.ArchiveDir, pollInterval)
	go poller.Run()

	shutdownWindow, err := time.ParseDuration(cfg.ShutdownWindow)
	if err != nil {
		return fmt.Errorf("parsing shutdown_window: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- tcpServer.Serve() }()
	logrus.WithField("addr", tcpServer.Addr().String()).Info("gateway: firmware tcp server listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("firmware tcp server stopped: %w", err)
		}
	case <-sig:
		logrus.Info("gateway: shutdown signal received")
	}

	poller.Stop()

	done := make(chan struct{})
	go func() { _ = tcpServer.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(shutdownWindow):
		logrus.Warn("gateway: graceful shutdown window exceeded")
	}
	return nil
}
