// Package serve wires the vault's key store, crypto provider, rate limiter,
// and token validator into whichever transports are enabled, and manages
// their lifecycle.
package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/config"
	"github.com/cryptolabinc/rune-vault/internal/cryptoprovider"
	"github.com/cryptolabinc/rune-vault/internal/health"
	"github.com/cryptolabinc/rune-vault/internal/keystore"
	"github.com/cryptolabinc/rune-vault/internal/ratelimit"
	"github.com/cryptolabinc/rune-vault/internal/security"
	"github.com/cryptolabinc/rune-vault/internal/transport/httptool"
	"github.com/cryptolabinc/rune-vault/internal/transport/rpctool"
	"github.com/cryptolabinc/rune-vault/internal/transport/stdiotool"
	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
	"github.com/gin-gonic/gin"
)

// Server holds the running transports and their shutdown hooks.
type Server struct {
	cfg     *config.Config
	running *RunningServers
}

// Shutdown gracefully stops every running transport within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.running == nil {
		return nil
	}
	return s.running.Close(ctx)
}

// StartServer builds and starts the vault: it ensures the keyset exists,
// constructs the request-handler service, and brings up whichever of
// stdio/HTTP/RPC transports cfg enables.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("starting vault",
		"keysetDir", cfg.KeysetDir,
		"keyID", cfg.KeyID,
		"stdio", cfg.StdioEnabled,
		"http", cfg.HTTPEnabled,
		"rpc", cfg.RPCEnabled,
		"singlePort", cfg.SinglePort,
	)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	keys, err := keystore.New(cfg.KeysetDir, cfg.KeyID, cfg.IndexName)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	crypto := cryptoprovider.New()
	if err := keys.EnsureKeyset(ctx, crypto); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	validator := auth.New(cfg.Tokens, limiter)
	svc := &vaultservice.Service{Keys: keys, Crypto: crypto, Validator: validator}

	checker := health.New(keys, time.Now())

	srv := &Server{cfg: cfg}

	if cfg.StdioEnabled {
		stdioSrv, err := stdiotool.New(svc)
		if err != nil {
			return nil, fmt.Errorf("stdio transport: %w", err)
		}
		go func() {
			if err := stdioSrv.Serve(); err != nil {
				log.Error("stdio transport stopped", "err", err)
			}
		}()
	}

	var httpHandler http.Handler
	if cfg.HTTPEnabled {
		gin.SetMode(gin.ReleaseMode)
		httpHandler = httptool.Mux(svc, checker)
	}

	var grpcServer *grpc.Server
	if cfg.RPCEnabled {
		grpcServer = grpc.NewServer(rpctool.ServerOptions()...)
		rpctool.Register(grpcServer, svc)
	}

	running, err := startTransports(cfg, httpHandler, grpcServer)
	if err != nil {
		return nil, err
	}
	srv.running = running

	httptool.MarkReady()
	log.Info("vault listening", "http", running.HTTPAddr, "rpc", running.RPCAddr)
	return srv, nil
}

// RunningServers tracks the live listeners so Shutdown can drain them.
type RunningServers struct {
	HTTPAddr net.Addr
	RPCAddr  net.Addr
	Close    func(ctx context.Context) error
}
