package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oasislabs/runtime-sdk/go/common/logging"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	protocol "github.com/oasislabs/runtime-sdk/go/host/protocol"
	"github.com/oasislabs/runtime-sdk/go/keymanager/insecure"
	"github.com/oasislabs/runtime-sdk/go/module"
	"github.com/oasislabs/runtime-sdk/go/modules/accounts"
	"github.com/oasislabs/runtime-sdk/go/modules/consensusaccounts"
	coremodule "github.com/oasislabs/runtime-sdk/go/modules/core"
	"github.com/oasislabs/runtime-sdk/go/modules/keyvalue"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"

	sdkdispatcher "github.com/oasislabs/runtime-sdk/go/dispatcher"
)

const (
	cfgSocket       = "socket"
	cfgDataDir      = "data_dir"
	cfgLogLevel     = "log.level"
	cfgLogFormat    = "log.format"
	cfgRuntimeVer   = "runtime_version"
	cfgMasterSecret = "insecure_keymanager_secret"
	cfgMaxBatchGas  = "params.max_batch_gas"
	cfgMaxTxSigners = "params.max_tx_signers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "accept one Runtime Host Protocol connection over a Unix socket and serve it",
	RunE:  doServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String(cfgSocket, "/tmp/runtimed.sock", "path to the Unix domain socket to listen on")
	flags.String(cfgDataDir, "", "badger data directory (empty for an in-memory store)")
	flags.String(cfgLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(cfgLogFormat, "logfmt", "log format: logfmt, json")
	flags.Uint64(cfgRuntimeVer, 1, "runtime version reported to the host")
	flags.String(cfgMasterSecret, "", "hex-encoded 32-byte master secret for the insecure dev keymanager (random if empty)")
	flags.Uint64(cfgMaxBatchGas, 10_000_000, "maximum gas consumable by one batch")
	flags.Uint16(cfgMaxTxSigners, 8, "maximum number of signers on one transaction")
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseLogFormat(s string) logging.Format {
	if s == "json" {
		return logging.FmtJSON
	}
	return logging.FmtLogfmt
}

func masterSecret() ([32]byte, error) {
	var secret [32]byte
	raw := viper.GetString(cfgMasterSecret)
	if raw == "" {
		if _, err := rand.Read(secret[:]); err != nil {
			return secret, fmt.Errorf("failed to generate random master secret: %w", err)
		}
		return secret, nil
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return secret, fmt.Errorf("invalid %s: %w", cfgMasterSecret, err)
	}
	if len(decoded) != len(secret) {
		return secret, fmt.Errorf("%s must decode to exactly 32 bytes, got %d", cfgMasterSecret, len(decoded))
	}
	copy(secret[:], decoded)
	return secret, nil
}

func newModuleChain() *module.Composite {
	core := coremodule.New(coremodule.Parameters{
		MaxBatchGasLimit: viper.GetUint64(cfgMaxBatchGas),
		MaxTxSigners:     uint16(viper.GetUint64(cfgMaxTxSigners)),
		MinGasPrice:      quantity.Quantity{},
	})
	acc := accounts.New()
	ca := consensusaccounts.New(consensusaccounts.Parameters{
		GasCosts: consensusaccounts.GasCosts{TxDeposit: 1000, TxWithdraw: 1000},
	})
	kv := keyvalue.New(keyvalue.Parameters{
		GasCosts: keyvalue.GasCosts{
			InsertAbsent:   100,
			InsertExisting: 50,
			RemoveAbsent:   20,
			RemoveExisting: 50,
		},
	})
	return module.NewComposite(core, acc, ca, kv)
}

func doServe(cmd *cobra.Command, _ []string) error {
	if err := logging.Initialize(os.Stderr, parseLogFormat(viper.GetString(cfgLogFormat)), parseLogLevel(viper.GetString(cfgLogLevel)), nil); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	db, err := mkvs.New(viper.GetString(cfgDataDir))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer db.Close()

	secret, err := masterSecret()
	if err != nil {
		return err
	}
	keyManager := insecure.New(secret)

	dispatch := sdkdispatcher.New(newModuleChain())
	handler := protocol.NewDispatchHandler(dispatch, db, keyManager, viper.GetUint64(cfgRuntimeVer))

	socketPath := viper.GetString(cfgSocket)
	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer listener.Close()

	logger.Info("waiting for host connection", "socket", socketPath)
	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept host connection: %w", err)
	}

	guest := protocol.NewConnection(handler)
	if err := guest.InitGuest(context.Background(), conn); err != nil {
		return fmt.Errorf("failed to complete guest handshake: %w", err)
	}
	logger.Info("runtime host protocol ready")

	<-cmd.Context().Done()
	guest.Close()
	return nil
}
