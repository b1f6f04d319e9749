// Command firmware simulates a flashed vehicle: it signs and emits
// telemetry samples to the gateway on an interval, and reacts to the
// gateway's on/off instruction the way a real vehicle's power controller
// would.
package main

import (
	"fmt"
	"math/rand"
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
	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscodec"
	"github.com/vtscanister/vts/internal/vtscrypto"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func main() {
	root := &cobra.Command{Use: "firmware"}
	root.AddCommand(runCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "emit signed telemetry to the gateway until interrupted",
		RunE:  runFirmware,
	}
	cmd.Flags().String("config", "", "path to a firmware config file (optional)")
	cmd.Flags().String("archive", "", "path to a provisioned firmware archive (overrides key-file)")
	cmd.Flags().String("key-file", "", "path to this vehicle's identity key file, used if --archive is not given")
	cmd.Flags().String("telemetry-type", "gas", "one of gas, speed, odometer")
	cmd.Flags().Duration("interval", 5*time.Second, "time between telemetry samples")
	cmd.Flags().String("log-level", "info", "logrus level")
	return cmd
}

func runFirmware(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultFirmware()
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.Load("VTS_FIRMWARE", configPath, &cfg); err != nil {
		return fmt.Errorf("loading firmware config: %w", err)
	}

	level, _ := cmd.Flags().GetString("log-level")
	if viper.GetString("logging.level") != "" {
		level = viper.GetString("logging.level")
	}
	logging.Setup(level)

	priv, identity, err := loadIdentity(cmd, cfg)
	if err != nil {
		return err
	}
	logrus.WithField("vehicle", identity.String()).Info("firmware: identity loaded")

	ttypeFlag, _ := cmd.Flags().GetString("telemetry-type")
	ttype, err := parseTelemetryType(ttypeFlag)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")

	conn, err := gatewaytcp.Dial(cfg.GatewayAddr)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poweredOn := false
	for {
		select {
		case <-sig:
			logrus.Info("firmware: shutdown signal received")
			return nil
		case <-ticker.C:
			turnOn, err := emitSample(conn, identity, priv, ttype)
			if err != nil {
				logrus.WithError(err).Warn("firmware: telemetry send failed")
				continue
			}
			if turnOn != poweredOn {
				poweredOn = turnOn
				logrus.WithField("on", poweredOn).Info("firmware: power state changed")
			}
		}
	}
}

func loadIdentity(cmd *cobra.Command, cfg config.Firmware) (*secp256k1.PrivateKey, vts.Principal, error) {
	archivePath, _ := cmd.Flags().GetString("archive")
	if archivePath != "" {
		archive, err := os.ReadFile(archivePath)
		if err != nil {
			return nil, vts.Principal{}, fmt.Errorf("reading firmware archive: %w", err)
		}
		identity, _, privBytes, err := firmwarebuild.UnpackImage(archive)
		if err != nil {
			return nil, vts.Principal{}, fmt.Errorf("unpacking firmware archive: %w", err)
		}
		priv := secp256k1.PrivKeyFromBytes(privBytes)
		return priv, identity, nil
	}

	keyFile, _ := cmd.Flags().GetString("key-file")
	if keyFile == "" {
		keyFile = cfg.KeyFile
	}
	priv, err := vtscrypto.LoadOrCreateKeyFile(keyFile)
	if err != nil {
		return nil, vts.Principal{}, fmt.Errorf("loading firmware identity: %w", err)
	}
	der, err := vtscrypto.EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		return nil, vts.Principal{}, fmt.Errorf("encoding firmware identity: %w", err)
	}
	return priv, vts.SelfAuthenticatingPrincipal(der), nil
}

func parseTelemetryType(s string) (vts.TelemetryType, error) {
	switch s {
	case "gas":
		return vts.TelemetryGas, nil
	case "speed":
		return vts.TelemetrySpeed, nil
	case "odometer":
		return vts.TelemetryOdometer, nil
	default:
		return 0, fmt.Errorf("unknown telemetry type %q", s)
	}
}

func emitSample(conn *gatewaytcp.Conn, identity vts.Principal, priv *secp256k1.PrivateKey, ttype vts.TelemetryType) (bool, error) {
	value := uint64(rand.Intn(100))
	payload, err := vtscodec.EncodeTelemetry(vtscodec.TelemetryPayload{Value: u128BytesOf(value), TType: uint8(ttype)})
	if err != nil {
		return false, fmt.Errorf("encoding telemetry: %w", err)
	}
	sig, err := vtscrypto.Sign(priv, payload)
	if err != nil {
		return false, fmt.Errorf("signing telemetry: %w", err)
	}
	return conn.SendTelemetry(identity, payload, sig)
}

func u128BytesOf(n uint64) vtscodec.U128Bytes {
	var u vtscodec.U128Bytes
	for i := 0; i < 8; i++ {
		u[15-i] = byte(n >> (8 * i))
	}
	return u
}
