package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/pipeconsole/internal/api"
	"github.com/animus-labs/pipeconsole/internal/changefeed"
	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/console"
	"github.com/animus-labs/pipeconsole/internal/controlsurface"
	"github.com/animus-labs/pipeconsole/internal/platform/httpserver"
	"github.com/animus-labs/pipeconsole/internal/platform/objectstore"
	"github.com/animus-labs/pipeconsole/internal/platform/postgres"
	"github.com/animus-labs/pipeconsole/internal/registry"
	"github.com/animus-labs/pipeconsole/internal/reportjobs"
)

func serve(ctx context.Context, logger *slog.Logger, args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configFile := flags.String("config", "", "console YAML file (overrides CONSOLE_CONFIG_FILE)")
	addr := flags.String("addr", "", "listen address (overrides CONSOLE_HTTP_ADDR)")
	if err := flags.Parse(args); err != nil {
		return invalidConfig(err)
	}

	s, err := loadSettings()
	if err != nil {
		return invalidConfig(err)
	}
	if strings.TrimSpace(*configFile) != "" {
		s.ConfigFile = *configFile
	}
	httpCfg, err := httpserver.ConfigFromEnv("pipeconsole")
	if err != nil {
		return invalidConfig(err)
	}
	if strings.TrimSpace(*addr) != "" {
		httpCfg.Addr = *addr
	}
	catalog, err := loadCatalog(s.ConfigFile)
	if err != nil {
		return invalidConfig(err)
	}

	db, store, err := openStore(ctx, s.DB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	source, err := changefeed.NewPGNotifySource(s.DB.ListenURL, logger)
	if err != nil {
		return invalidConfig(err)
	}
	exporter, archive, err := openArchive(ctx, s.Archive)
	if err != nil {
		return err
	}

	httpClient := outboundClient(ctx, s.Token)
	control, err := controlsurface.New(s.ControlSurfaceURL, httpClient)
	if err != nil {
		return invalidConfig(err)
	}
	reports, err := reportjobs.New(s.ReportJobsURL, httpClient)
	if err != nil {
		return invalidConfig(err)
	}

	reg := registry.New(s.Reconcile.LogWindow)
	dispatcher, err := newDispatcher(reg, store, control, exporter, logger)
	if err != nil {
		return err
	}
	session, err := console.New(console.Deps{
		Store:      store,
		Source:     source,
		Registry:   reg,
		Dispatcher: dispatcher,
		Reports:    reports,
		JobStatus:  reports,
		Catalog:    catalog,
		Logger:     logger,
		Reconcile:  s.Reconcile,
	})
	if err != nil {
		return err
	}

	checks := []httpserver.ReadinessCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return postgres.Ping(ctx, db, s.DB.PingTimeout) },
	}}
	if archive != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "audit_archive",
			Check: func(ctx context.Context) error { return objectstore.CheckBucket(ctx, archive, s.Archive) },
		})
	}
	handler := api.Handler(logger, session, checks...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error { return httpserver.Run(gctx, logger, httpCfg, handler) })
	if strings.TrimSpace(s.ConfigFile) != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, s.ConfigFile, catalog, logger); err != nil {
				logger.Warn("config watch stopped", "path", s.ConfigFile, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
