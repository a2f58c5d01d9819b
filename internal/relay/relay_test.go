package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/queue"
	"github.com/basket/scenecrew/internal/relay"
)

func openQueue(t *testing.T) (*queue.Queue, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "scenecrew.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return queue.New(queue.Config{Store: store}), store
}

type remoteCall struct {
	ObjectPath   string            `json:"objectPath"`
	FunctionName string            `json:"functionName"`
	Parameters   map[string]string `json:"parameters"`
}

// fakeEditor fails any script containing "boom" and reports a saved file
// for screenshot scripts.
func fakeEditor(t *testing.T, seen chan<- remoteCall) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/remote/object/call" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var call remoteCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seen != nil {
			seen <- call
		}
		if strings.Contains(call.Parameters["PythonCommand"], "boom") {
			http.Error(w, "Traceback: NameError: name 'boom' is not defined", http.StatusBadRequest)
			return
		}
		if strings.Contains(call.Parameters["PythonCommand"], "take_high_res_screenshot") {
			_, _ = w.Write([]byte(`{"ReturnValue":true,"Output":"SCREENSHOT_SAVED:/Saved/Screenshots/check.png"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ReturnValue":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEngine_WireFormat(t *testing.T) {
	seen := make(chan remoteCall, 1)
	srv := fakeEditor(t, seen)
	eng := relay.NewHTTPEngine(srv.URL+"/", time.Second, nil)

	ok, out, err := eng.Execute(context.Background(), "import unreal")
	if err != nil || !ok {
		t.Fatalf("execute = %v %q %v", ok, out, err)
	}
	if out != `{"ReturnValue":true}` {
		t.Fatalf("output = %q", out)
	}
	call := <-seen
	if call.ObjectPath != "/Script/PythonScriptPlugin.Default__PythonScriptLibrary" ||
		call.FunctionName != "ExecutePythonCommand" ||
		call.Parameters["PythonCommand"] != "import unreal" {
		t.Fatalf("call = %+v", call)
	}
}

func TestHTTPEngine_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ok, out, err := relay.NewHTTPEngine(url, time.Second, nil).Execute(context.Background(), "x")
	if err != nil {
		t.Fatalf("transport failure should be an engine failure, got %v", err)
	}
	if ok || !strings.HasPrefix(out, "engine unreachable") {
		t.Fatalf("got %v %q", ok, out)
	}
}

func TestStep_MarksOutcome(t *testing.T) {
	q, store := openQueue(t)
	srv := fakeEditor(t, nil)
	r := relay.New(relay.Config{Source: q, Engine: relay.NewHTTPEngine(srv.URL, time.Second, nil)})
	ctx := context.Background()

	good, err := q.Enqueue(ctx, "p1", "import unreal\nunreal.log('ok')", "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	bad, err := q.Enqueue(ctx, "p1", "import unreal\nboom()", "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		if handled, err := r.Step(ctx); !handled || err != nil {
			t.Fatalf("step %d = %v, %v", i, handled, err)
		}
	}
	if handled, err := r.Step(ctx); handled || err != nil {
		t.Fatalf("empty queue step = %v, %v", handled, err)
	}

	g, err := store.GetCommand(ctx, good)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.Status != persistence.CommandSuccess || g.Result == "" {
		t.Fatalf("good = %+v", g)
	}
	b, err := store.GetCommand(ctx, bad)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != persistence.CommandError || !strings.Contains(b.ErrorLog, "NameError") {
		t.Fatalf("bad = %+v", b)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	q, store := openQueue(t)
	r := relay.New(relay.Config{Source: q, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	id, err := q.Enqueue(ctx, "p1", "import unreal", "Thomas")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		cmd, err := store.GetCommand(context.Background(), id)
		if err == nil && cmd.Status.Terminal() {
			if !strings.HasPrefix(cmd.Result, "dry run") {
				t.Fatalf("result = %q", cmd.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("command never executed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestStep_RecordsScreenshotPath(t *testing.T) {
	q, store := openQueue(t)
	srv := fakeEditor(t, nil)
	r := relay.New(relay.Config{Source: q, Engine: relay.NewHTTPEngine(srv.URL, time.Second, nil)})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "p1", "import unreal\nunreal.AutomationLibrary.take_high_res_screenshot(1920, 1080, 'check.png')", "Morgan")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if handled, err := r.Step(ctx); !handled || err != nil {
		t.Fatalf("step = %v, %v", handled, err)
	}
	cmd, err := store.GetCommand(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cmd.Status != persistence.CommandSuccess || cmd.ScreenshotURL != "/Saved/Screenshots/check.png" {
		t.Fatalf("screenshot command = %+v", cmd)
	}
}
