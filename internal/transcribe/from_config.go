package transcribe

import (
	"fmt"
	"log/slog"

	"notescribe/internal/config"
	"notescribe/internal/pitch"
	"notescribe/internal/services"
)

// SecondaryFromConfig returns the secondary estimator selected by cfg. A nil
// estimator with a nil error means the primary estimator runs alone.
func SecondaryFromConfig(cfg *config.Config, logger *slog.Logger) (pitch.Estimator, error) {
	if cfg == nil {
		return pitch.Spectral{}, nil
	}
	switch cfg.Estimator.Kind {
	case config.EstimatorSpectral, "":
		return pitch.Spectral{}, nil
	case config.EstimatorNone:
		return nil, nil
	case config.EstimatorExternal:
		return pitch.External{
			Command: cfg.Estimator.Command,
			Args:    append([]string(nil), cfg.Estimator.CommandArgs...),
			Logger:  logger,
		}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "config", "estimator",
			fmt.Sprintf("unknown estimator kind %q", cfg.Estimator.Kind), nil)
	}
}

// FromConfig builds an Analyzer from the application configuration.
func FromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Analyzer, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "config", "load", "configuration unavailable", nil)
	}
	secondary, err := SecondaryFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithLogger(logger),
		WithSecondary(secondary),
		WithEstimatorTimeout(cfg.EstimatorTimeout()),
	}
	return New(cfg.Analysis, append(base, opts...)...)
}
