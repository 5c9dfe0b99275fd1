// Command shproduct is the entry point for the structured product ledger. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
//
// "shproduct keygen -out key.json" writes a fresh encrypted deployer key and
// exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/app"
	"github.com/alanyoungcy/shproduct/internal/config"
	keys "github.com/alanyoungcy/shproduct/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		if err := keygen(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shproduct starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("shproduct stopped")
}

// keygen writes a new deployer key encrypted with the password taken from
// SHPRODUCT_WALLET_KEY_PASSWORD and prints its address.
func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "deployer.key.json", "path of the encrypted key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password := os.Getenv("SHPRODUCT_WALLET_KEY_PASSWORD")
	if password == "" {
		return errors.New("SHPRODUCT_WALLET_KEY_PASSWORD must be set")
	}

	keyHex, err := keys.GenerateKey()
	if err != nil {
		return err
	}
	if err := keys.WriteKeyFile(*out, keyHex, password); err != nil {
		return err
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, crypto.PubkeyToAddress(pk.PublicKey).Hex())
	return nil
}
