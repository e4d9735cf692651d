package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/metrics"
	"github.com/aretw0/espalier/internal/presentation/tui"
	httpadapter "github.com/aretw0/espalier/pkg/adapters/http"
	"github.com/aretw0/espalier/pkg/adapters/mcp"
)

// ServeOptions tunes Serve beyond what the config file holds.
type ServeOptions struct {
	// Recover resumes sessions left RUNNING or RETRYING by a previous process
	// before the listeners start.
	Recover bool
	// Banner, when set, receives the startup banner.
	Banner io.Writer
	// Ready is called with the bound API address once listening.
	Ready func(addr string)
}

// Serve runs the HTTP API (with the MCP endpoint mounted at /mcp) until ctx
// is cancelled, then drains in-flight requests within the configured
// shutdown timeout.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ServeOptions) error {
	m := metrics.New()
	eng, err := BuildEngine(ctx, cfg, logger, m.Hooks())
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("failed to close engine", "err", err)
		}
	}()

	if opts.Recover {
		n, err := eng.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover sessions: %w", err)
		}
		logger.Info("recovered interrupted sessions", "count", n)
	}

	api, err := NewAPIHandler(eng, m, cfg.HTTP.MetricsAddr == "", logger)
	if err != nil {
		return err
	}

	apiLn, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
	}
	servers := []*http.Server{newServer(api, cfg.HTTP)}
	listeners := []net.Listener{apiLn}

	if cfg.HTTP.MetricsAddr != "" {
		metricsLn, err := net.Listen("tcp", cfg.HTTP.MetricsAddr)
		if err != nil {
			_ = apiLn.Close()
			return fmt.Errorf("listen on %s: %w", cfg.HTTP.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		servers = append(servers, newServer(mux, cfg.HTTP))
		listeners = append(listeners, metricsLn)
		logger.Info("serving metrics", "addr", metricsLn.Addr().String())
	}

	if opts.Banner != nil {
		tui.PrintBanner(opts.Banner, espalier.Version)
	}
	logger.Info("serving api", "addr", apiLn.Addr().String(), "store", cfg.Store.Driver)
	if opts.Ready != nil {
		opts.Ready(apiLn.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err, srv.Close())
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// NewAPIHandler mounts the REST API and the streamable MCP endpoint on one
// handler. withMetrics also exposes /metrics on it.
func NewAPIHandler(eng *espalier.Engine, m *metrics.Metrics, withMetrics bool, logger *slog.Logger) (http.Handler, error) {
	hopts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithVersion(espalier.Version),
	}
	if withMetrics {
		hopts = append(hopts, httpadapter.WithMetrics(m.Handler()))
	}
	api, err := httpadapter.NewHandler(eng, hopts...)
	if err != nil {
		return nil, err
	}

	mcpSrv := mcp.NewServer(eng, espalier.Version, mcp.WithLogger(logger))
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpSrv.Handler())
	mux.Handle("/", api)
	return mux, nil
}

func newServer(h http.Handler, cfg config.HTTPConfig) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: min(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout:      cfg.WriteTimeout,
	}
}
