// Package config loads process configuration from a YAML file, environment
// variables and flag defaults, in that overlay order, using viper the way
// the rest of the stack does.
package config

import (
	"fmt"
	"reflect"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Canister holds cmd/canister's configuration.
type Canister struct {
	DBPath     string `mapstructure:"db_path"`
	RPCListen  string `mapstructure:"rpc_listen"`
	KeyFile    string `mapstructure:"key_file"`
	LedgerAddr string `mapstructure:"ledger_addr"`
}

// Gateway holds cmd/gateway's configuration.
type Gateway struct {
	TCPListen      string `mapstructure:"tcp_listen"`
	CanisterRPC    string `mapstructure:"canister_rpc"`
	KeyFile        string `mapstructure:"key_file"`
	Arch           string `mapstructure:"arch"`
	FirmwarePoll   string `mapstructure:"firmware_poll"`
	ArchiveDir     string `mapstructure:"archive_dir"`
	ShutdownWindow string `mapstructure:"shutdown_window"`
}

// Firmware holds cmd/firmware's configuration.
type Firmware struct {
	GatewayAddr string `mapstructure:"gateway_addr"`
	KeyFile     string `mapstructure:"key_file"`
}

// Load reads the YAML file at configPath (optional; empty means none)
// overlaid with envPrefix_* environment variables into dst. With no config
// file, defaults and environment variables still apply. godotenv loads
// a local .env file first (if present) so developers don't have to export
// variables into their shell.
func Load(envPrefix string, configPath string, dst interface{}) error {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}
	// AutomaticEnv only serves keys viper already knows, so bind every
	// mapstructure key of dst explicitly for Unmarshal to see it.
	if rv := reflect.Indirect(reflect.ValueOf(dst)); rv.Kind() == reflect.Struct {
		for i := 0; i < rv.NumField(); i++ {
			if key := rv.Type().Field(i).Tag.Get("mapstructure"); key != "" {
				_ = v.BindEnv(key)
			}
		}
	}
	if err := v.Unmarshal(dst); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}

// DefaultCanister returns the canister's configuration with development
// defaults, useful when no config file or environment overrides are set.
func DefaultCanister() Canister {
	return Canister{
		DBPath:    "vts-canister.db",
		RPCListen: "127.0.0.1:9401",
		KeyFile:   "canister.key",
	}
}

// DefaultGateway returns the gateway's configuration with development
// defaults.
func DefaultGateway() Gateway {
	return Gateway{
		TCPListen:      "0.0.0.0:9402",
		CanisterRPC:    "127.0.0.1:9401",
		KeyFile:        "gateway.key",
		Arch:           "generic",
		FirmwarePoll:   "1s",
		ArchiveDir:     "firmware-archive",
		ShutdownWindow: "10s",
	}
}

// DefaultFirmware returns the firmware client's configuration with
// development defaults.
func DefaultFirmware() Firmware {
	return Firmware{GatewayAddr: "127.0.0.1:9402", KeyFile: "firmware.key"}
}
