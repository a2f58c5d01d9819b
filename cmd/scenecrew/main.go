package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/agent/offline"
	"github.com/basket/scenecrew/internal/audit"
	"github.com/basket/scenecrew/internal/autodebug"
	"github.com/basket/scenecrew/internal/bus"
	"github.com/basket/scenecrew/internal/classifier"
	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/consult"
	"github.com/basket/scenecrew/internal/coordinator"
	"github.com/basket/scenecrew/internal/memory"
	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/queue"
	"github.com/basket/scenecrew/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "scenecrew",
		Short: "Async build orchestrator for UE5 agent teams",
		Long: "scenecrew turns a scene brief into a plan, has agents write engine Python for each task,\n" +
			"queues it for the editor relay, and repairs failures automatically.",
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("home", "", "state directory (default $SCENECREW_HOME or ~/.scenecrew)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newBuildCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newControlCommand())
	root.AddCommand(newRelayCommand())
	root.AddCommand(newMemoriesCommand())
	root.AddCommand(newDoctorCommand())
	return root
}

// app is the process-wide state every subcommand starts from.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	bus      *bus.Bus
	store    *persistence.Store
	provider *otelPkg.Provider
	metrics  *otelPkg.Metrics
	closers  []func()
}

func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// bootstrap loads config and opens logging, audit, telemetry and the store.
// quiet keeps logs out of stdout so command output stays readable.
func bootstrap(ctx context.Context, cmd *cobra.Command, quiet bool) *app {
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		home = config.HomeDir()
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit comes up before the logger so logger failures are audited too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	rt := &app{cfg: cfg}
	rt.closers = append(rt.closers, func() { _ = audit.Close() })

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	rt.closers = append(rt.closers, func() { _ = closer.Close() })
	slog.SetDefault(logger)
	rt.logger = logger
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint())

	provider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	rt.provider = provider
	rt.closers = append(rt.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(sctx)
	})
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}
	rt.metrics = metrics

	rt.bus = bus.New()
	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "scenecrew.db"), rt.bus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, func() { _ = store.Close() })
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")
	return rt
}

// core is the orchestration graph shared by serve and the local commands.
type core struct {
	queue        *queue.Queue
	classifier   *classifier.Classifier
	memory       *memory.Extractor
	orchestrator *coordinator.Orchestrator
}

func newCore(ctx context.Context, rt *app) *core {
	cfg := rt.cfg
	provider, model, apiKey := cfg.ResolveLLM()
	caller := agent.NewGenkitCaller(ctx, agent.GenkitConfig{
		Provider:    provider,
		Model:       model,
		APIKey:      apiKey,
		BaseURL:     cfg.LLM.BaseURL,
		AgentModels: cfg.LLM.AgentModels,
		Fallback:    offline.New(),
		Tracer:      rt.provider.Tracer,
		Metrics:     rt.metrics,
		Logger:      rt.logger,
	})

	q := queue.New(queue.Config{
		Store:        rt.store,
		Bus:          rt.bus,
		PollInterval: cfg.PollInterval(),
		PollAttempts: cfg.Queue.PollAttempts,
		RecentLimit:  cfg.Queue.RecentLimit,
		Metrics:      rt.metrics,
		Logger:       rt.logger,
	})
	cls := classifier.New(thresholdsFrom(cfg))
	mem := memory.New(memory.Config{
		Store:   rt.store,
		Bus:     rt.bus,
		Limits:  memory.Limits{MaxPerTurn: cfg.Memory.MaxPerTurn, MaxContentChars: cfg.Memory.MaxContentChars},
		Metrics: rt.metrics,
		Logger:  rt.logger,
	})

	orch := coordinator.New(coordinator.Config{
		Store:  rt.store,
		Queue:  q,
		Caller: caller,
		Debugger: autodebug.New(autodebug.Config{
			Store:       rt.store,
			Caller:      caller,
			Bus:         rt.bus,
			Memory:      mem,
			MaxAttempts: cfg.AutoDebug.MaxAttempts,
			Metrics:     rt.metrics,
			Logger:      rt.logger,
		}),
		Classifier:   cls,
		Memory:       mem,
		Consult:      consult.New(consult.Config{Store: rt.store, Caller: caller, Bus: rt.bus, Memory: mem, Logger: rt.logger}),
		Bus:          rt.bus,
		BaseContext:  ctx,
		PausePoll:    cfg.PausePollInterval(),
		ReviewEvery:  reviewEvery(cfg),
		ExpandPrompt: cfg.Orchestrator.ExpandPrompt,
		VisualCheck:  cfg.Orchestrator.VisualCheck,
		Trailer:      cfg.Orchestrator.Trailer,
		Tracer:       rt.provider.Tracer,
		Metrics:      rt.metrics,
		Logger:       rt.logger,
	})
	return &core{queue: q, classifier: cls, memory: mem, orchestrator: orch}
}

func thresholdsFrom(cfg config.Config) classifier.Thresholds {
	return classifier.Thresholds{
		MaxSimpleWords: cfg.Classifier.MaxSimpleWords,
		MaxSimpleItems: cfg.Classifier.MaxSimpleItems,
		ScopeWords:     cfg.Classifier.ScopeWords,
	}
}

// reviewEvery maps the config value onto the orchestrator's: in config.yaml
// 0 turns reviews off, while the orchestrator reads 0 as "use the default".
func reviewEvery(cfg config.Config) int {
	if cfg.Orchestrator.ReviewEvery == 0 {
		return -1
	}
	return cfg.Orchestrator.ReviewEvery
}

// quietOutput reports whether logs should stay file-only: one-shot commands
// on a terminal print their own output.
func quietOutput() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), "fatal", "runtime.startup", reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, strings.TrimSpace(val))
	}
}

// loadAuthToken returns the configured token, or the one persisted in
// <home>/auth.token, generating it on first use.
func loadAuthToken(cfg config.Config) (string, error) {
	if tok := strings.TrimSpace(cfg.AuthToken); tok != "" {
		return tok, nil
	}
	tokenPath := filepath.Join(cfg.HomeDir, "auth.token")
	if b, err := os.ReadFile(tokenPath); err == nil {
		if tok := strings.TrimSpace(string(b)); tok != "" {
			return tok, nil
		}
	}
	token := uuid.NewString()
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist auth token: %w", err)
	}
	slog.Info("auth.token generated", "path", tokenPath)
	return token, nil
}

func projectFlag(cmd *cobra.Command) (string, error) {
	p, _ := cmd.Flags().GetString("project")
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("--project is required")
	}
	return p, nil
}

func printStatus(w io.Writer, rep *coordinator.StatusReport) {
	fmt.Fprintf(w, "Run %s: %s (%d tasks)\n", rep.RunID, rep.Status, rep.TotalTasks)
	for i, t := range rep.Plan {
		marker := " "
		if i == rep.CurrentTaskIndex && rep.Status.Active() {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %d. [%s] %s (%s)", marker, i+1, t.Status, t.Title, t.AssignedTo)
		if t.Error != "" {
			fmt.Fprintf(w, ": %s", firstLine(t.Error))
		}
		fmt.Fprintln(w)
	}
	if rep.Summary != "" {
		fmt.Fprintln(w, rep.Summary)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
