package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeEstimator()
	c.normalizeLogging()
	c.normalizeHistory()
	c.normalizeRender()
	c.normalizeAPI()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		if value, ok := os.LookupEnv("NOTESCRIBE_FFMPEG"); ok {
			c.Tools.FFmpeg = strings.TrimSpace(value)
		}
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
}

func (c *Config) normalizeEstimator() {
	c.Estimator.Command = strings.TrimSpace(c.Estimator.Command)
	if c.Estimator.Command == "" {
		if value, ok := os.LookupEnv("NOTESCRIBE_ESTIMATOR_COMMAND"); ok {
			c.Estimator.Command = strings.TrimSpace(value)
		}
	}
	c.Estimator.Kind = strings.ToLower(strings.TrimSpace(c.Estimator.Kind))
	if c.Estimator.Kind == "" {
		if c.Estimator.Command != "" {
			c.Estimator.Kind = EstimatorExternal
		} else {
			c.Estimator.Kind = defaultEstimatorKind
		}
	}
	if c.Estimator.TimeoutSeconds == 0 {
		c.Estimator.TimeoutSeconds = defaultEstimatorTimeoutSeconds
	}
	args := c.Estimator.CommandArgs[:0]
	for _, arg := range c.Estimator.CommandArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Estimator.CommandArgs = args
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json", "auto":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("NOTESCRIBE_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.ComponentLevels) > 0 {
		levels := make(map[string]string, len(c.Logging.ComponentLevels))
		for name, level := range c.Logging.ComponentLevels {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			levels[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.ComponentLevels = levels
	}
}

func (c *Config) normalizeHistory() {
	if c.History.MaxEntries < 0 {
		c.History.MaxEntries = 0
	}
}

func (c *Config) normalizeRender() {
	c.Render.Instrument = strings.TrimSpace(c.Render.Instrument)
	if c.Render.Instrument == "" {
		c.Render.Instrument = defaultInstrument
	}
}

func (c *Config) normalizeAPI() {
	origins := make([]string, 0, len(c.API.AllowedOrigins))
	for _, origin := range c.API.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.API.AllowedOrigins = origins
	if c.API.MaxUploadMiB <= 0 {
		c.API.MaxUploadMiB = defaultMaxUploadMiB
	}
}
