package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/controlsurface"
	"github.com/animus-labs/pipeconsole/internal/intervention"
	"github.com/animus-labs/pipeconsole/internal/platform/auditlog"
	"github.com/animus-labs/pipeconsole/internal/platform/objectstore"
	"github.com/animus-labs/pipeconsole/internal/platform/postgres"
	"github.com/animus-labs/pipeconsole/internal/platform/servicetoken"
	"github.com/animus-labs/pipeconsole/internal/registry"
	pgrepo "github.com/animus-labs/pipeconsole/internal/repo/postgres"
)

func openStore(ctx context.Context, cfg postgres.Config) (*sql.DB, *pgrepo.Store, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, pgrepo.NewStore(db), nil
}

// outboundClient authenticates calls to the control surface and report job
// service with client credentials when a token endpoint is configured.
func outboundClient(ctx context.Context, cfg servicetoken.Config) *http.Client {
	return servicetoken.NewHTTPClient(ctx, cfg, nil)
}

// openArchive returns the audit exporter and, when archiving is on, the
// client used for the readiness check.
func openArchive(ctx context.Context, cfg objectstore.Config) (auditlog.Exporter, *minio.Client, error) {
	if !cfg.Enabled() {
		return auditlog.NoopExporter{}, nil, nil
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := objectstore.EnsureBucket(ctx, client, cfg); err != nil {
		return nil, nil, err
	}
	exporter, err := auditlog.NewArchiveExporter(client, cfg.Bucket)
	if err != nil {
		return nil, nil, err
	}
	return exporter, client, nil
}

func newDispatcher(
	reg *registry.Registry,
	store *pgrepo.Store,
	control *controlsurface.Client,
	exporter auditlog.Exporter,
	logger *slog.Logger,
) (*intervention.Dispatcher, error) {
	return intervention.New(reg, store, control, logger,
		intervention.WithFallback(store),
		intervention.WithExporter(exporter),
	)
}

func loadCatalog(path string) (*config.Catalog, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return config.NewCatalog(f), nil
}
