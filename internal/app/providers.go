package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxtable/internal/config"
	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/internal/resilience"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
)

// Providers holds the model backends. Nil means the capability is not
// configured. Populated by [BuildProviders] from the config registry.
type Providers struct {
	// LLM serves pipeline suggestions and voice commands, and vision when
	// Vision is nil.
	LLM     llm.Provider
	LLMName string

	// Vision serves photo scans when configured separately.
	Vision     llm.Provider
	VisionName string
}

// BuildProviders instantiates the providers named in cfg using reg. When
// fallbacks are configured the LLM slot holds a [resilience.LLMFallback]
// with the primary first. m may be nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM, ps.LLMName = p, entry.Name
		slog.Info("app: provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

		if len(cfg.Providers.Fallbacks) > 0 {
			fb := resilience.NewLLMFallback(p, entry.Name, resilience.FallbackConfig{}, m)
			for _, fe := range cfg.Providers.Fallbacks {
				fp, err := reg.CreateLLM(fe)
				if err != nil {
					return nil, fmt.Errorf("app: create fallback provider %q: %w", fe.Name, err)
				}
				fb.AddFallback(fe.Name, fp)
				slog.Info("app: provider created", "kind", "llm-fallback", "name", fe.Name, "model", fe.Model)
			}
			ps.LLM = fb
		}
	}

	if entry := cfg.Providers.Vision; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create vision provider %q: %w", entry.Name, err)
		}
		ps.Vision, ps.VisionName = p, entry.Name
		slog.Info("app: provider created", "kind", "vision", "name", entry.Name, "model", entry.Model)
	}

	return ps, nil
}
