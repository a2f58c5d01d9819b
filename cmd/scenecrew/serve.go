package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/gateway"
	"github.com/basket/scenecrew/internal/relay"
	"github.com/basket/scenecrew/internal/sweeper"
)

const (
	drainTimeout     = 5 * time.Second
	bucketEvictEvery = 5 * time.Minute
	bucketMaxIdle    = 10 * time.Minute
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, build loops and the stale-work sweeper",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Bool("relay", false, "also run the engine relay in this process")
	cmd.Flags().Bool("dry-run", false, "with --relay, accept commands without contacting the editor")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt := bootstrap(ctx, cmd, false)
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && len(cfg.AllowOrigins) == 0 {
			logger.Warn("allow_origins is empty on non-loopback bind; cross-origin browser connections will be rejected", "bind_addr", cfg.BindAddr)
		}
	}

	token, err := loadAuthToken(cfg)
	if err != nil {
		fatalStartup(logger, "E_AUTH_TOKEN", err)
	}

	c := newCore(ctx, rt)

	sw, err := sweeper.New(sweeper.Config{
		Store:      rt.store,
		Reconciler: c.orchestrator,
		Schedule:   cfg.Sweeper.Schedule,
		StaleAfter: cfg.StaleAfter(),
		Logger:     logger,
	})
	if err != nil {
		fatalStartup(logger, "E_SWEEPER_INIT", err)
	}
	if cfg.Sweeper.Enabled {
		sw.Start(ctx)
		defer sw.Stop()
		logger.Info("startup phase", "phase", "sweeper_started", "next_run", sw.NextRun())
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range watcher.Events() {
			reloadConfig(rt, c, ev.Config, logger)
		}
	}()

	if run, _ := cmd.Flags().GetBool("relay"); run {
		dry, _ := cmd.Flags().GetBool("dry-run")
		r := relay.New(relay.Config{
			Source:       c.queue,
			Engine:       newEngine(rt, dry),
			PollInterval: cfg.RelayPollInterval(),
			Logger:       logger,
		})
		go func() {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("in-process relay stopped", "error", err)
			}
		}()
		logger.Info("startup phase", "phase", "relay_started", "dry_run", dry)
	}

	gw := gateway.New(gateway.Config{
		Orchestrator:      c.orchestrator,
		Queue:             c.queue,
		Store:             rt.store,
		Memory:            c.memory,
		Bus:               rt.bus,
		AuthToken:         token,
		AllowOrigins:      cfg.AllowOrigins,
		RateLimit:         cfg.RateLimit,
		ConfigFingerprint: cfg.Fingerprint(),
		Tracer:            rt.provider.Tracer,
		Metrics:           rt.metrics,
		Logger:            logger,
	})
	gw.Limiter().StartEviction(ctx, bucketEvictEvery, bucketMaxIdle)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	// Run loops stop with ctx. Anything left executing is failed by the
	// sweeper on the next start.
	drained := make(chan struct{})
	go func() { c.orchestrator.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("build loops still running at shutdown")
	}
	logger.Info("shutdown complete")
	return nil
}

// reloadConfig applies the hot-reloadable settings from config.yaml.
// Everything else needs a restart.
func reloadConfig(rt *app, c *core, next config.Config, logger *slog.Logger) {
	c.classifier.SetThresholds(thresholdsFrom(next))
	c.queue.SetPolling(next.PollInterval(), next.Queue.PollAttempts)
	c.orchestrator.SetPausePoll(next.PausePollInterval())
	rt.bus.Publish(bus.TopicConfigReloaded, map[string]string{"fingerprint": next.Fingerprint()})
	logger.Info("config.yaml hot-reloaded", "fingerprint", next.Fingerprint())
}

func newEngine(rt *app, dry bool) relay.Engine {
	if dry {
		return relay.DryRunEngine{}
	}
	return relay.NewHTTPEngine(rt.cfg.Relay.RemoteControlURL, rt.cfg.RelayTimeout(), rt.provider.Tracer)
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	// lsof names the occupying process on macOS and Linux.
	out, err := execCommandFunc("lsof", "-ti", ":"+port).Output()
	if pids := strings.TrimSpace(string(out)); err == nil && pids != "" {
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

var execCommandFunc = exec.Command
