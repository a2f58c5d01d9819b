package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basket/scenecrew/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("SCENECREW_AUTH_TOKEN", "")
	t.Setenv("UE5_REMOTE_CONTROL_URL", "")
	cfg, err := config.LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return &cfg
}

func TestNilConfigSkips(t *testing.T) {
	for _, c := range []check{checkAPIKey, checkDatabase, checkPermissions, checkEngine, checkNetwork} {
		if res := c(context.Background(), nil); res.Status != StatusSkip {
			t.Fatalf("%s: status = %s, want SKIP", res.Name, res.Status)
		}
	}
	if res := checkConfig(context.Background(), nil); res.Status != StatusFail {
		t.Fatalf("config: status = %s", res.Status)
	}
}

func TestCheckConfig_FirstRunWarns(t *testing.T) {
	cfg := testConfig(t)
	if res := checkConfig(context.Background(), cfg); res.Status != StatusWarn {
		t.Fatalf("status = %s", res.Status)
	}
	cfg.FirstRun = false
	if res := checkConfig(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestCheckAPIKey(t *testing.T) {
	cfg := testConfig(t)
	if res := checkAPIKey(context.Background(), cfg); res.Status != StatusWarn {
		t.Fatalf("no key: %+v", res)
	}
	cfg.LLM.APIKey = "k"
	if res := checkAPIKey(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("with key: %+v", res)
	}
	cfg.LLM.Provider = "none"
	if res := checkAPIKey(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("disabled: %+v", res)
	}
}

func TestCheckDatabaseAndPermissions(t *testing.T) {
	cfg := testConfig(t)
	if res := checkDatabase(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("database: %+v", res)
	}
	if res := checkPermissions(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("permissions: %+v", res)
	}
}

func TestCheckEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remote/info" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"HttpRoutes":[]}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Relay.RemoteControlURL = srv.URL + "/"
	if res := checkEngine(context.Background(), cfg); res.Status != StatusPass {
		t.Fatalf("reachable: %+v", res)
	}

	srv.Close()
	if res := checkEngine(context.Background(), cfg); res.Status != StatusWarn {
		t.Fatalf("unreachable: %+v", res)
	}
}

func TestRunOffline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.RemoteControlURL = ""
	d := Run(context.Background(), cfg, "test", true)
	if len(d.Results) != 5 {
		t.Fatalf("results = %d", len(d.Results))
	}
	for _, r := range d.Results {
		if r.Name == "Network" {
			t.Fatal("offline run should not resolve DNS")
		}
	}
	if d.Failed() {
		t.Fatalf("unexpected failure: %+v", d.Results)
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		"http://localhost:11434/v1":  "localhost",
		"https://api.example.com/v1": "api.example.com",
		"api.example.com":            "api.example.com",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}
