package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelPkg "github.com/basket/scenecrew/internal/otel"
)

const (
	DefaultRemoteControlURL = "http://localhost:30010"
	DefaultTimeout          = 30 * time.Second

	pythonLibraryPath = "/Script/PythonScriptPlugin.Default__PythonScriptLibrary"
	pythonFunction    = "ExecutePythonCommand"
	maxResponseBytes  = 1 << 20
)

// Engine runs one script in the editor. ok reports engine-side success;
// output is the engine's reply or the failure text. err is only for
// cancellation.
type Engine interface {
	Execute(ctx context.Context, code string) (ok bool, output string, err error)
}

// HTTPEngine talks to the editor's Remote Control HTTP API.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
}

func NewHTTPEngine(baseURL string, timeout time.Duration, tracer trace.Tracer) *HTTPEngine {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultRemoteControlURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tracer == nil {
		tracer = otelPkg.Noop().Tracer
	}
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tracer:  tracer,
	}
}

type callRequest struct {
	ObjectPath   string            `json:"objectPath"`
	FunctionName string            `json:"functionName"`
	Parameters   map[string]string `json:"parameters"`
}

func (e *HTTPEngine) Execute(ctx context.Context, code string) (bool, string, error) {
	ctx, span := otelPkg.StartClientSpan(ctx, e.tracer, "relay.remote_call")
	defer span.End()

	body, err := json.Marshal(callRequest{
		ObjectPath:   pythonLibraryPath,
		FunctionName: pythonFunction,
		Parameters:   map[string]string{"PythonCommand": code},
	})
	if err != nil {
		return false, "", fmt.Errorf("encode remote call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.baseURL+"/remote/object/call", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("build remote call: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		span.SetStatus(codes.Error, err.Error())
		return false, "engine unreachable: " + err.Error(), nil
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, "read engine response: " + err.Error(), nil
	}
	text := string(out)
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		if strings.TrimSpace(text) == "" {
			text = "engine returned " + resp.Status
		}
		return false, text, nil
	}
	return true, text, nil
}

// DryRunEngine accepts every script without contacting an editor. It lets
// the pipeline run end to end on machines without the engine.
type DryRunEngine struct{}

func (DryRunEngine) Execute(ctx context.Context, code string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	lines := strings.Count(strings.TrimRight(code, "\n"), "\n") + 1
	return true, fmt.Sprintf("dry run: accepted %d lines", lines), nil
}
