package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/config"
	"github.com/rubickcz/smsgate/internal/domain"
)

// Registry resolves backends by name. Registration happens once at
// startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

func (r *Registry) Register(b Backend) error {
	if b == nil {
		return fmt.Errorf("%w: nil backend", domain.ErrConfiguration)
	}

	name := b.Name()
	if name == "" {
		return fmt.Errorf("%w: backend name is required", domain.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("%w: backend %q already registered", domain.ErrConfiguration, name)
	}

	r.backends[name] = b
	return nil
}

func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrConfiguration, name)
	}
	return b, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig builds and registers every backend the
// configuration enables. The dummy backend is always available. The
// configured default backend must resolve or startup aborts.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := NewRegistry()

	if err := registry.Register(NewDummyBackend()); err != nil {
		return nil, err
	}

	if cfg.SMSOperator.Enabled() {
		if err := cfg.SMSOperator.Validate(); err != nil {
			return nil, err
		}
		b, err := NewSMSOperatorBackend(cfg.SMSOperator, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(b); err != nil {
			return nil, err
		}
		logger.Info("registered backend", zap.String("backend", b.Name()))
	}

	if cfg.ATS.Enabled() {
		if err := cfg.ATS.Validate(); err != nil {
			return nil, err
		}
		b, err := NewATSBackend(cfg.ATS, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(b); err != nil {
			return nil, err
		}
		logger.Info("registered backend", zap.String("backend", b.Name()))
	}

	if cfg.SNS.Enabled() {
		if err := cfg.SNS.Validate(); err != nil {
			return nil, err
		}
		b, err := NewSNSBackend(ctx, cfg.SNS)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(b); err != nil {
			return nil, err
		}
		logger.Info("registered backend", zap.String("backend", b.Name()))
	}

	if _, err := registry.Get(cfg.SMS.Backend); err != nil {
		return nil, fmt.Errorf("default backend %q is not enabled: %w", cfg.SMS.Backend, err)
	}

	return registry, nil
}
