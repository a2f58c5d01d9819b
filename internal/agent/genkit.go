package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	otelPkg "github.com/basket/scenecrew/internal/otel"
	"github.com/basket/scenecrew/internal/pricing"
)

// GenkitConfig configures a GenkitCaller.
type GenkitConfig struct {
	// Provider is "google", "anthropic", "openai", "openai_compatible",
	// "openrouter" or "none". Empty means google.
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// AgentModels overrides Model per agent name.
	AgentModels map[string]string

	// Fallback answers when no backend is configured or generation fails.
	Fallback Caller

	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
	Logger  *slog.Logger
}

// GenkitCaller talks to the configured LLM through Genkit. Without an API
// key every call goes to the Fallback caller.
type GenkitCaller struct {
	g        *genkit.Genkit
	cfg      GenkitConfig
	provider string
	llmOn    bool
	tracer   trace.Tracer
	metrics  *otelPkg.Metrics
	logger   *slog.Logger
}

// NewGenkitCaller initializes Genkit with the plugin for cfg.Provider.
func NewGenkitCaller(ctx context.Context, cfg GenkitConfig) *GenkitCaller {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "none":
		logger.Info("llm disabled by config; using deterministic responder")

	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")),
			}))
			llmOn = true
		}

	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")),
			}))
			llmOn = true
		}

	case "openai_compatible":
		if apiKey != "" && cfg.BaseURL != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai_compatible",
				APIKey:   apiKey,
				BaseURL:  cfg.BaseURL,
			}))
			llmOn = true
		}

	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			llmOn = true
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			llmOn = true
		}

	default:
		logger.Warn("unknown LLM provider, using deterministic responder", "provider", provider)
	}

	if llmOn {
		logger.Info("genkit caller initialized", "provider", provider, "model", cfg.Model)
	} else if provider != "none" {
		logger.Warn("LLM API key missing; using deterministic responder", "provider", provider)
	}

	c := &GenkitCaller{
		g:        g,
		cfg:      cfg,
		provider: provider,
		llmOn:    llmOn,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	if c.tracer == nil {
		c.tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.ScopeName)
	}
	if c.metrics == nil {
		c.metrics = otelPkg.NoopMetrics()
	}
	return c
}

// LLMEnabled reports whether calls reach a real model.
func (c *GenkitCaller) LLMEnabled() bool { return c.llmOn }

func (c *GenkitCaller) modelFor(agentName string) string {
	if m := strings.TrimSpace(c.cfg.AgentModels[agentName]); m != "" {
		return m
	}
	return strings.TrimSpace(c.cfg.Model)
}

// Call sends prompt to agentName with its persona as the system prompt.
// The Fallback answers only when no backend is configured; a configured
// backend that fails returns its error.
func (c *GenkitCaller) Call(ctx context.Context, agentName, prompt, projectContext string) (string, error) {
	id, ok := Lookup(agentName)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", agentName)
	}
	model := modelNameForProvider(c.provider, c.modelFor(id.Name))

	ctx, span := otelPkg.StartClientSpan(ctx, c.tracer, "agent.call",
		otelPkg.AttrAgent.String(id.Name),
		otelPkg.AttrModel.String(model),
	)
	defer span.End()
	started := time.Now()
	defer func() {
		c.metrics.AgentCallDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(otelPkg.AttrAgent.String(id.Name)))
	}()

	if !c.llmOn {
		return c.fallback(ctx, id.Name, prompt, projectContext)
	}

	// Genkit formats prompt strings, so escape literal percent signs.
	system := strings.ReplaceAll(SystemPrompt(id, projectContext), "%", "%%")
	user := strings.ReplaceAll(strings.TrimSpace(prompt), "%", "%%")

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(model),
		ai.WithSystem(system),
		ai.WithPrompt(user),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("genkit generate failed", "agent", id.Name, "model", model, "error", err)
		return "", fmt.Errorf("genkit generate for %s: %w", id.Name, err)
	}
	reply := resp.Text()
	c.recordUsage(span, id.Name, model, system+user, reply, resp.Usage)
	return reply, nil
}

// recordUsage annotates the span with token counts and an estimated cost.
func (c *GenkitCaller) recordUsage(span trace.Span, agentName, model, prompt, reply string, usage *ai.GenerationUsage) {
	var in, out int
	if usage != nil {
		in, out = usage.InputTokens, usage.OutputTokens
	}
	u := pricing.Estimate(model, in, out, prompt, reply)
	span.SetAttributes(
		attribute.Int("llm.tokens.input", u.InputTokens),
		attribute.Int("llm.tokens.output", u.OutputTokens),
		attribute.Float64("llm.cost_usd", u.CostUSD),
		attribute.Bool("llm.tokens.estimated", u.Estimated),
	)
	c.logger.Debug("agent call usage", "agent", agentName, "model", model,
		"input_tokens", u.InputTokens, "output_tokens", u.OutputTokens, "cost_usd", u.CostUSD, "estimated", u.Estimated)
}

func (c *GenkitCaller) fallback(ctx context.Context, agentName, prompt, projectContext string) (string, error) {
	if c.cfg.Fallback == nil {
		return "", fmt.Errorf("no LLM backend configured for %s", agentName)
	}
	return c.cfg.Fallback.Call(ctx, agentName, prompt, projectContext)
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

var defaultModels = map[string]string{
	"google":     "gemini-2.5-flash",
	"anthropic":  "claude-sonnet-4-5",
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModels[provider]
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	case "openrouter":
		// OpenRouter model names already carry a vendor prefix.
		return model
	default:
		return "googleai/" + model
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
