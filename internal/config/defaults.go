package config

import "notescribe/internal/analysis"

const (
	defaultStateDir                = "~/.local/share/notescribe"
	defaultLogDir                  = "~/.local/share/notescribe/logs"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultEstimatorKind           = EstimatorSpectral
	defaultEstimatorTimeoutSeconds = 30
	defaultHistoryMaxEntries       = 500
	defaultInstrument              = "Acoustic Grand Piano"
	defaultMaxUploadMiB            = 64
)

// Default returns a Config populated with repository defaults. The estimator
// kind is left empty and resolved during normalization: external when a
// command is configured, spectral otherwise.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Analysis: analysis.DefaultConfig(),
		Estimator: Estimator{
			TimeoutSeconds: defaultEstimatorTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled:    true,
			MaxEntries: defaultHistoryMaxEntries,
		},
		Render: Render{
			Instrument: defaultInstrument,
		},
		API: API{
			MaxUploadMiB: defaultMaxUploadMiB,
		},
	}
}
