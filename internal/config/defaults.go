// Package config provides default configuration handling.
package config

const (
	defaultTickSeconds           = 30
	defaultIdleSeconds           = 300
	defaultStuckSeconds          = 900
	defaultArchiveTimeoutSeconds = 60
	defaultCollectConcurrency    = 5
)

// Defaults returns the documented configuration defaults.
//
// Defaults:
// - phase_completion_mode: "any"
// - thresholds.tick_seconds: 30
// - thresholds.idle_seconds: 300
// - thresholds.stuck_seconds: 900
// - thresholds.archive_timeout_seconds: 60
// - thresholds.collect_concurrency: 5
func Defaults() Config {
	return Config{
		Mode: ModeAny,
		Thresholds: ThresholdsConfig{
			TickSeconds:           defaultTickSeconds,
			IdleSeconds:           defaultIdleSeconds,
			StuckSeconds:          defaultStuckSeconds,
			ArchiveTimeoutSeconds: defaultArchiveTimeoutSeconds,
			CollectConcurrency:    defaultCollectConcurrency,
		},
	}
}

// ApplyDefaults fills missing or invalid threshold values with documented
// defaults, reporting each substitution through the warn sink.
func ApplyDefaults(cfg Config, warn func(string)) Config {
	defaults := Defaults()

	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	cfg.Thresholds.TickSeconds = normalizePositive(
		cfg.Thresholds.TickSeconds, defaults.Thresholds.TickSeconds,
		"thresholds.tick_seconds", warn)
	cfg.Thresholds.IdleSeconds = normalizePositive(
		cfg.Thresholds.IdleSeconds, defaults.Thresholds.IdleSeconds,
		"thresholds.idle_seconds", warn)
	cfg.Thresholds.StuckSeconds = normalizePositive(
		cfg.Thresholds.StuckSeconds, defaults.Thresholds.StuckSeconds,
		"thresholds.stuck_seconds", warn)
	cfg.Thresholds.ArchiveTimeoutSeconds = normalizePositive(
		cfg.Thresholds.ArchiveTimeoutSeconds, defaults.Thresholds.ArchiveTimeoutSeconds,
		"thresholds.archive_timeout_seconds", warn)
	cfg.Thresholds.CollectConcurrency = normalizePositive(
		cfg.Thresholds.CollectConcurrency, defaults.Thresholds.CollectConcurrency,
		"thresholds.collect_concurrency", warn)

	// Stuck must exceed idle or staleness classification inverts.
	if cfg.Thresholds.StuckSeconds <= cfg.Thresholds.IdleSeconds {
		emitWarning(warn, "thresholds.stuck_seconds must exceed thresholds.idle_seconds; using defaults")
		cfg.Thresholds.IdleSeconds = defaults.Thresholds.IdleSeconds
		cfg.Thresholds.StuckSeconds = defaults.Thresholds.StuckSeconds
	}

	return cfg
}

// normalizePositive substitutes the default for non-positive values.
func normalizePositive(value int, fallback int, field string, warn func(string)) int {
	if value > 0 {
		return value
	}
	if value != 0 {
		emitWarning(warn, "config "+field+" must be positive; using default")
	}
	return fallback
}

// emitWarning forwards warnings to the provided sink.
func emitWarning(warn func(string), message string) {
	if warn == nil {
		return
	}
	warn(message)
}
