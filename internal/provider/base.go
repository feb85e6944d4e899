package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/resilience"
)

// statusFunc extracts an HTTP status and body from a vendor error.
type statusFunc func(err error) (status int, body string)

// base carries the behavior shared by every adapter: rate limiting, the
// fixed per-call timeout, the optional breaker and error normalization.
type base struct {
	name    string
	kind    string
	model   string
	maxTok  int
	timeout time.Duration
	limiter *SlidingWindow
	breaker *resilience.CircuitBreaker
	status  statusFunc
}

func newBase(kind string, cfg config.ProviderConfig, status statusFunc) base {
	b := base{
		name:    cfg.Name,
		kind:    kind,
		model:   cfg.Model,
		maxTok:  cfg.MaxTokens,
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		limiter: NewSlidingWindow(cfg.RateLimitPerMinute, DefaultWindow),
		status:  status,
	}
	if b.name == "" {
		b.name = kind
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	if cfg.BreakerThreshold > 0 {
		name := b.name
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("provider circuit state change",
					zap.String("provider", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) describe() model.ModelInfo {
	return model.ModelInfo{
		Provider:        b.kind,
		Model:           b.model,
		MaxTokens:       b.maxTok,
		Pricing:         PricingFor(b.kind, b.model),
		RoleSuitability: SuitabilityFor(b.kind, b.model),
	}
}

func (b *base) costPerToken() (float64, float64) {
	p := PricingFor(b.kind, b.model)
	return p.Input, p.Output
}

// do runs one vendor call under the limiter, timeout and breaker.
func (b *base) do(ctx context.Context, call func(ctx context.Context) (*Result, error)) (*Result, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: b.kind, Model: b.model, Err: eris.Wrap(err, "provider: rate limit wait")}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var (
		res *Result
		err error
	)
	if b.breaker != nil {
		res, err = resilience.ExecuteVal(ctx, b.breaker, call)
	} else {
		res, err = call(ctx)
	}
	if err != nil {
		return nil, b.normalize(err)
	}
	if res.TokensUsed == 0 {
		res.TokensUsed = res.InputTokens + res.OutputTokens
	}
	if res.ModelID == "" {
		res.ModelID = b.model
	}

	in, out := b.costPerToken()
	zap.L().Debug("cost attribution",
		zap.String("provider", b.name),
		zap.String("model", res.ModelID),
		zap.Int("input_tokens", res.InputTokens),
		zap.Int("output_tokens", res.OutputTokens),
		zap.Float64("estimated_cost_usd", float64(res.InputTokens)/1000*in+float64(res.OutputTokens)/1000*out),
	)
	return res, nil
}

func (b *base) normalize(err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &ProviderError{Provider: b.kind, Model: b.model, Status: 503, Body: "circuit open", Err: err}
	}
	pe := &ProviderError{Provider: b.kind, Model: b.model, Err: err}
	if b.status != nil {
		pe.Status, pe.Body = b.status(err)
	}
	return pe
}

// tokens picks the per-call limit, falling back to the configured maximum.
func (b *base) tokens(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return b.maxTok
}
