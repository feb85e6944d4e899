package provider

import (
	"sort"
	"sync"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/pkg/anthropic"
	"github.com/sells-group/distill-cli/pkg/gemini"
	"github.com/sells-group/distill-cli/pkg/ollama"
	"github.com/sells-group/distill-cli/pkg/openai"
)

// Constructor builds a provider from its configuration.
type Constructor func(cfg config.ProviderConfig) (Provider, error)

// defaultModels fills an empty model field per provider type.
var defaultModels = map[string]string{
	config.ProviderAnthropic: "claude-3-5-sonnet-20241022",
	config.ProviderOpenAI:    "gpt-4o",
	config.ProviderGoogle:    "gemini-pro",
	config.ProviderLocal:     "llama2",
}

// Registry maps (role, provider type) to a constructor. It is passed
// explicitly to whatever builds providers; there is no package-level
// instance.
type Registry struct {
	mu    sync.RWMutex
	ctors map[Role]map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[Role]map[string]Constructor),
	}
}

// DefaultRegistry registers every built-in vendor for both roles.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, role := range []Role{RoleTeacher, RoleStudent} {
		r.Register(role, config.ProviderAnthropic, newAnthropicFromConfig)
		r.Register(role, config.ProviderOpenAI, newOpenAIFromConfig)
		r.Register(role, config.ProviderGoogle, newGoogleFromConfig)
		r.Register(role, config.ProviderLocal, newLocalFromConfig)
	}
	return r
}

// Register adds or replaces the constructor for (role, providerType).
func (r *Registry) Register(role Role, providerType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctors[role] == nil {
		r.ctors[role] = make(map[string]Constructor)
	}
	r.ctors[role][providerType] = ctor
}

// Build constructs a provider for role from cfg.
func (r *Registry) Build(role Role, cfg config.ProviderConfig) (Provider, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[role][cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Errorf("provider: no %s constructor for type %q", role, cfg.Type)
	}

	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Type]
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type + "/" + cfg.Model
	}

	p, err := ctor(cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: build %s %s", role, cfg.Name)
	}
	return p, nil
}

// Types lists the provider types registered for role.
func (r *Registry) Types(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.ctors[role]))
	for t := range r.ctors[role] {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func newAnthropicFromConfig(cfg config.ProviderConfig) (Provider, error) {
	var opts []option.RequestOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return NewAnthropic(cfg, anthropic.NewClient(cfg.Key, opts...)), nil
}

func newOpenAIFromConfig(cfg config.ProviderConfig) (Provider, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return NewOpenAI(cfg, openai.NewClient(cfg.Key, opts...)), nil
}

func newGoogleFromConfig(cfg config.ProviderConfig) (Provider, error) {
	opts := []gemini.Option{gemini.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
	}
	return NewGoogle(cfg, gemini.NewClient(cfg.Key, opts...)), nil
}

func newLocalFromConfig(cfg config.ProviderConfig) (Provider, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithBaseURL(cfg.BaseURL))
	}
	return NewLocal(cfg, ollama.NewClient(opts...)), nil
}
