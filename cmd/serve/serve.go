package serve

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/cryptolabinc/rune-vault/internal/config"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var tokensRaw string
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the vault's stdio, HTTP, and RPC transports",
		Flags: flags(&cfg, &tokensRaw),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Tokens = config.ParseTokens(tokensRaw)
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func flags(cfg *config.Config, tokensRaw *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode: prod|testing",
		},
		&cli.StringFlag{
			Name:        "keyset-dir",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_KEYSET_DIR"),
			Destination: &cfg.KeysetDir,
			Value:       cfg.KeysetDir,
			Usage:       "Directory holding the keyset files",
		},
		&cli.StringFlag{
			Name:        "key-id",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_KEY_ID"),
			Destination: &cfg.KeyID,
			Value:       cfg.KeyID,
			Usage:       "Opaque identifier for the active keyset",
		},
		&cli.StringFlag{
			Name:        "index-name",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_INDEX_NAME"),
			Destination: &cfg.IndexName,
			Usage:       "Index name surfaced in the public key bundle",
		},
		&cli.StringFlag{
			Name:        "tokens",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_TOKENS"),
			Destination: tokensRaw,
			Usage:       "Comma-separated bearer tokens accepted by the token validator",
		},
		&cli.IntFlag{
			Name:        "rate-limit-max-requests",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_RATE_LIMIT_MAX_REQUESTS"),
			Destination: &cfg.RateLimitMaxRequests,
			Value:       cfg.RateLimitMaxRequests,
			Usage:       "Maximum requests per principal per rate-limit window",
		},
		&cli.DurationFlag{
			Name:        "rate-limit-window",
			Category:    "Vault:",
			Sources:     cli.EnvVars("VAULT_RATE_LIMIT_WINDOW"),
			Destination: &cfg.RateLimitWindow,
			Value:       cfg.RateLimitWindow,
			Usage:       "Sliding window duration for rate limiting",
		},

		// ── Transports ────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "stdio",
			Category:    "Transports:",
			Sources:     cli.EnvVars("VAULT_STDIO_ENABLED"),
			Destination: &cfg.StdioEnabled,
			Value:       cfg.StdioEnabled,
			Usage:       "Enable the stdio tool transport",
		},
		&cli.BoolFlag{
			Name:        "http",
			Category:    "Transports:",
			Sources:     cli.EnvVars("VAULT_HTTP_ENABLED"),
			Destination: &cfg.HTTPEnabled,
			Value:       cfg.HTTPEnabled,
			Usage:       "Enable the HTTP tool transport",
		},
		&cli.BoolFlag{
			Name:        "rpc",
			Category:    "Transports:",
			Sources:     cli.EnvVars("VAULT_RPC_ENABLED"),
			Destination: &cfg.RPCEnabled,
			Value:       cfg.RPCEnabled,
			Usage:       "Enable the binary RPC transport",
		},
		&cli.BoolFlag{
			Name:        "single-port",
			Category:    "Transports:",
			Sources:     cli.EnvVars("VAULT_SINGLE_PORT"),
			Destination: &cfg.SinglePort,
			Value:       cfg.SinglePort,
			Usage:       "Multiplex HTTP and RPC onto the HTTP listener's port via cmux",
		},

		// ── Network Listeners ─────────────────────────────────────
		&cli.IntFlag{
			Name:        "http-port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULT_HTTP_PORT"),
			Destination: &cfg.HTTPListener.Port,
			Value:       cfg.HTTPListener.Port,
			Usage:       "HTTP tool transport port",
		},
		&cli.IntFlag{
			Name:        "rpc-port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULT_RPC_PORT"),
			Destination: &cfg.RPCListener.Port,
			Value:       cfg.RPCListener.Port,
			Usage:       "RPC transport port (ignored when --single-port is set and both HTTP and RPC are enabled)",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULT_TLS_CERT_FILE"),
			Destination: &cfg.HTTPListener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULT_TLS_KEY_FILE"),
			Destination: &cfg.HTTPListener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},

		// ── Observability ─────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Not applied: requests to /health, /health/ready, /health/live and /metrics are never access-logged",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Observability:",
			Sources:     cli.EnvVars("VAULT_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	srv, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	log.Info("vault stopped")
	return nil
}
