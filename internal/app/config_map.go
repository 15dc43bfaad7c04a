package app

import (
	"fmt"
	"strings"
	"time"

	"subwaybot/internal/config"
	"subwaybot/internal/notifier"
	"subwaybot/internal/status"
	"subwaybot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busyTimeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig resolves the notifier section. enabled comes from the
// command line; the file only tunes the pipeline.
func mapNotifierConfig(cfg *config.Config, enabled bool) (notifier.Config, error) {
	out := notifier.Config{Enabled: enabled}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: numeric settings must be >= 0")
	}
	var err error
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.HistorySize = n.HistorySize
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retryBase", n.RetryBase, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retryMaxDelay", n.RetryMaxDelay, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.Timeout, err = config.ParseDurationOrDefault("notifier.timeout", n.Timeout, 0); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapChannelConfig(cfg *config.Config, timeout time.Duration) notifier.ChannelConfig {
	return notifier.ChannelConfig{
		Kind:    cfg.Channel(),
		Token:   strings.TrimSpace(cfg.NotifierToken),
		Secret:  strings.TrimSpace(cfg.NotifierSecret),
		Timeout: timeout,
	}
}

func mapStatusConfig(cfg *config.Config) status.Config {
	if cfg == nil {
		return status.Config{}
	}
	return status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.ListenAddr(),
		Token:   cfg.Status.Token,
		Debug:   cfg.Status.Debug,
	}
}
