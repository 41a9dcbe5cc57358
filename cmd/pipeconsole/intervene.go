package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/animus-labs/pipeconsole/internal/controlsurface"
	"github.com/animus-labs/pipeconsole/internal/intervention"
	"github.com/animus-labs/pipeconsole/internal/platform/auditlog"
	"github.com/animus-labs/pipeconsole/internal/registry"
)

// intervene dispatches one intervention against the store's view of the
// execution and prints the audit record as NDJSON.
func intervene(ctx context.Context, logger *slog.Logger, args []string, stdout io.Writer) error {
	var req intervention.Request
	flags := pflag.NewFlagSet("intervene", pflag.ContinueOnError)
	flags.StringVar(&req.ExecutionID, "execution", "", "execution id")
	flags.StringVar(&req.Type, "type", "", "pause, resume, cancel, retry_stage or skip_stage")
	flags.StringVar(&req.TargetStage, "stage", "", "target stage name for retry_stage and skip_stage")
	flags.StringVar(&req.Reason, "reason", "", "why the intervention is needed")
	flags.StringVar(&req.PerformedBy, "operator", os.Getenv("USER"), "operator identity recorded in the audit trail")
	if err := flags.Parse(args); err != nil {
		return invalidConfig(err)
	}
	if strings.TrimSpace(req.ExecutionID) == "" {
		return invalidConfig(errors.New("--execution is required"))
	}

	s, err := loadSettings()
	if err != nil {
		return invalidConfig(err)
	}
	db, store, err := openStore(ctx, s.DB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	exporter, _, err := openArchive(ctx, s.Archive)
	if err != nil {
		return err
	}
	control, err := controlsurface.New(s.ControlSurfaceURL, outboundClient(ctx, s.Token))
	if err != nil {
		return invalidConfig(err)
	}
	dispatcher, err := newDispatcher(registry.New(s.Reconcile.LogWindow), store, control, exporter, logger)
	if err != nil {
		return err
	}

	record, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	return auditlog.NewNDJSONExporter(stdout).Export(ctx, record)
}
