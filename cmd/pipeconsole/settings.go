package main

import (
	"time"

	"github.com/animus-labs/pipeconsole/internal/platform/env"
	"github.com/animus-labs/pipeconsole/internal/platform/objectstore"
	"github.com/animus-labs/pipeconsole/internal/platform/postgres"
	"github.com/animus-labs/pipeconsole/internal/platform/servicetoken"
	"github.com/animus-labs/pipeconsole/internal/reconcile"
)

type settings struct {
	DB                postgres.Config
	Archive           objectstore.Config
	Token             servicetoken.Config
	Reconcile         reconcile.Config
	ControlSurfaceURL string
	ReportJobsURL     string
	ConfigFile        string
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	if s.DB, err = postgres.ConfigFromEnv(); err != nil {
		return settings{}, err
	}
	if s.Archive, err = objectstore.ConfigFromEnv(); err != nil {
		return settings{}, err
	}
	if s.Token, err = servicetoken.ConfigFromEnv(); err != nil {
		return settings{}, err
	}
	if s.Reconcile, err = reconcileFromEnv(); err != nil {
		return settings{}, err
	}
	if s.ControlSurfaceURL, err = env.URL("CONTROL_SURFACE_URL", "http://localhost:8090"); err != nil {
		return settings{}, err
	}
	if s.ReportJobsURL, err = env.URL("REPORT_JOBS_URL", "http://localhost:8091"); err != nil {
		return settings{}, err
	}
	s.ConfigFile = env.String("CONSOLE_CONFIG_FILE", "")
	return s, nil
}

func reconcileFromEnv() (reconcile.Config, error) {
	interval, err := env.Duration("CONSOLE_RECONCILE_INTERVAL", 5*time.Second)
	if err != nil {
		return reconcile.Config{}, err
	}
	activeLimit, err := env.Int("CONSOLE_ACTIVE_LIMIT", 50)
	if err != nil {
		return reconcile.Config{}, err
	}
	logWindow, err := env.Int("CONSOLE_LOG_WINDOW", 100)
	if err != nil {
		return reconcile.Config{}, err
	}
	alertLimit, err := env.Int("CONSOLE_ALERT_LIMIT", 50)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		Interval:    interval,
		ActiveLimit: activeLimit,
		LogWindow:   logWindow,
		AlertLimit:  alertLimit,
	}, nil
}
