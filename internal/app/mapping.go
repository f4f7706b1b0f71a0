package app

import (
	"time"

	"mailcast/internal/broadcast"
	"mailcast/internal/config"
	"mailcast/internal/httpapi"
	"mailcast/internal/mailer"
	"mailcast/internal/storage"
	logx "mailcast/pkg/logx"
)

// Config structs stay JSON/YAML-shaped in internal/config; the mapping to
// each component's runtime config (parsed durations, defaults) lives here.

func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapMailerConfig(cfg *config.Config) (mailer.Config, error) {
	timeout, err := config.ParseDurationOrDefault("smtp.timeout", cfg.SMTP.Timeout, mailer.DefaultTimeout)
	if err != nil {
		return mailer.Config{}, err
	}
	startTLS := true
	if cfg.SMTP.StartTLS != nil {
		startTLS = *cfg.SMTP.StartTLS
	}
	return mailer.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		SenderName: cfg.SMTP.SenderName,
		StartTLS:   startTLS,
		Timeout:    timeout,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	ttl, err := config.ParseDurationField("broadcast.status_ttl", cfg.Broadcast.StatusTTL)
	if err != nil {
		return broadcast.Config{}, err
	}
	syncThreshold := 25
	if cfg.Broadcast.SyncThreshold != nil {
		syncThreshold = *cfg.Broadcast.SyncThreshold
	}
	return broadcast.Config{
		MinConcurrency:     cfg.Broadcast.MinConcurrency,
		MaxConcurrency:     cfg.Broadcast.MaxConcurrency,
		DefaultConcurrency: cfg.Broadcast.DefaultConcurrency,
		SyncThreshold:      syncThreshold,
		RatePerSec:         cfg.Broadcast.RatePerSec,
		MaxFailuresKept:    cfg.Broadcast.MaxFailuresKept,
		StatusTTL:          ttl,
		StatusMax:          cfg.Broadcast.StatusMax,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	shutdownTimeout, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     readTimeout,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	driver := cfg.Storage.Driver
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}
