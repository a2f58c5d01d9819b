// Package doctor diagnoses a scenecrew installation: config, credentials,
// the store, and whether the editor's Remote Control API answers.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/scenecrew/internal/config"
	"github.com/basket/scenecrew/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

type check func(context.Context, *config.Config) CheckResult

// Run executes all diagnostic checks. Offline skips the DNS lookup.
func Run(ctx context.Context, cfg *config.Config, version string, offline bool) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []check{checkConfig, checkAPIKey, checkDatabase, checkPermissions, checkEngine}
	if !offline {
		checks = append(checks, checkNetwork)
	}
	for _, c := range checks {
		d.Results = append(d.Results, c(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.FirstRun {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "No config.yaml yet; running on defaults",
			Detail: "Create " + config.ConfigPath(cfg.HomeDir) + " to change the LLM provider or relay URL"}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir), Detail: cfg.Fingerprint()}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: StatusSkip, Message: "Config missing"}
	}
	provider, model, key := cfg.ResolveLLM()
	if provider == "none" {
		return CheckResult{Name: "API Key", Status: StatusPass, Message: "LLM disabled; agents use offline templates"}
	}
	if key != "" {
		return CheckResult{Name: "API Key", Status: StatusPass, Message: fmt.Sprintf("Key found for %s (model %s)", provider, model)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  StatusWarn,
		Message: fmt.Sprintf("No API key for %s; agents fall back to offline templates", provider),
		Detail:  "Set the provider's key in the environment or llm.api_key in config.yaml",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "scenecrew.db"), nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	counts, err := store.CommandCounts(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	res := CheckResult{
		Name:    "Database",
		Status:  StatusPass,
		Message: "Schema valid",
		Detail: fmt.Sprintf("pending=%d executing=%d success=%d error=%d",
			counts[persistence.CommandPending], counts[persistence.CommandExecuting],
			counts[persistence.CommandSuccess], counts[persistence.CommandError]),
	}
	if counts[persistence.CommandExecuting] > 0 {
		res.Status = StatusWarn
		res.Message = "Commands are executing; the sweeper fails them if no relay finishes them"
	}
	return res
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	_ = os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

// checkEngine asks the editor's Remote Control server for its route list.
// An unreachable editor is a warning: commands simply wait in the queue.
func checkEngine(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Relay.RemoteControlURL == "" {
		return CheckResult{Name: "Engine", Status: StatusSkip, Message: "No Remote Control URL configured"}
	}
	base := strings.TrimRight(cfg.Relay.RemoteControlURL, "/")
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/remote/info", nil)
	if err != nil {
		return CheckResult{Name: "Engine", Status: StatusFail, Message: fmt.Sprintf("Bad Remote Control URL: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Name:    "Engine",
			Status:  StatusWarn,
			Message: "Editor not reachable at " + base,
			Detail:  "Start the editor with the Remote Control API plugin enabled, then run `scenecrew relay`",
		}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{Name: "Engine", Status: StatusWarn, Message: fmt.Sprintf("Editor answered HTTP %d at %s", resp.StatusCode, base)}
	}
	return CheckResult{Name: "Engine", Status: StatusPass, Message: "Remote Control API reachable at " + base}
}

var providerHosts = map[string]string{
	"google":     "generativelanguage.googleapis.com",
	"anthropic":  "api.anthropic.com",
	"openai":     "api.openai.com",
	"openrouter": "openrouter.ai",
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	provider, _, _ := cfg.ResolveLLM()
	host, ok := providerHosts[provider]
	if !ok {
		if cfg.LLM.BaseURL == "" {
			return CheckResult{Name: "Network", Status: StatusSkip, Message: fmt.Sprintf("No known endpoint for provider %q", provider)}
		}
		host = hostOf(cfg.LLM.BaseURL)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s", provider),
	}
}

func hostOf(rawURL string) string {
	s := rawURL
	if _, rest, ok := strings.Cut(s, "://"); ok {
		s = rest
	}
	s, _, _ = strings.Cut(s, "/")
	if h, _, err := net.SplitHostPort(s); err == nil {
		return h
	}
	return s
}
