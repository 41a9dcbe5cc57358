package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/animus-labs/pipeconsole/internal/config"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/poller"
	"github.com/animus-labs/pipeconsole/internal/reportjobs"
)

// watchReport starts a report from a template, or follows an existing job
// with --job, printing every status snapshot as a JSON line. A failed job
// exits non-zero with the job's error message.
func watchReport(ctx context.Context, logger *slog.Logger, args []string, stdout io.Writer) error {
	var (
		req   domain.ReportRequest
		jobID string
	)
	flags := pflag.NewFlagSet("watch-report", pflag.ContinueOnError)
	flags.StringVar(&jobID, "job", "", "follow an existing job instead of starting one")
	flags.StringVar(&req.CompanyID, "company", "", "company the report is for")
	flags.StringVar(&req.TemplateID, "template", "", "report template id from the console file")
	flags.StringVar(&req.ExecutionID, "execution", "", "execution the report belongs to")
	params := flags.StringToString("param", nil, "template parameter override, key=value (repeatable)")
	configFile := flags.String("config", "", "console YAML file (overrides CONSOLE_CONFIG_FILE)")
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
	catalog, err := loadCatalog(s.ConfigFile)
	if err != nil {
		return invalidConfig(err)
	}
	reports, err := reportjobs.New(s.ReportJobsURL, outboundClient(ctx, s.Token))
	if err != nil {
		return invalidConfig(err)
	}

	if strings.TrimSpace(jobID) == "" {
		if jobID, err = startFromTemplate(ctx, reports, catalog, req, *params); err != nil {
			return err
		}
		logger.Info("report job started", "job_id", jobID, "template_id", req.TemplateID)
	}

	polling := catalog.Current().Polling
	p, err := poller.New(reports, logger, poller.Config{Bands: polling.Bands, Settle: polling.Settle})
	if err != nil {
		return invalidConfig(err)
	}

	enc := json.NewEncoder(stdout)
	err = p.Run(ctx, jobID, func(job domain.ReportJob) {
		_ = enc.Encode(job)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startFromTemplate(ctx context.Context, reports *reportjobs.Client, catalog *config.Catalog, req domain.ReportRequest, overrides map[string]string) (string, error) {
	if strings.TrimSpace(req.CompanyID) == "" || strings.TrimSpace(req.TemplateID) == "" {
		return "", invalidConfig(errors.New("--company and --template are required without --job"))
	}
	tpl, ok := catalog.Template(req.TemplateID)
	if !ok {
		return "", invalidConfig(fmt.Errorf("unknown template %q", req.TemplateID))
	}
	req.Params = tpl.Params.Clone()
	for k, v := range overrides {
		req.Params[k] = v
	}
	return reports.Start(ctx, req)
}
