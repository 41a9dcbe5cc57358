package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/pipeconsole/internal/platform/env"
)

// Config describes the bucket intervention audit records are archived to.
// Archiving is off when Endpoint is empty.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("AUDIT_ARCHIVE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("AUDIT_ARCHIVE_ENDPOINT", ""),
		AccessKey: env.String("AUDIT_ARCHIVE_ACCESS_KEY", ""),
		SecretKey: env.String("AUDIT_ARCHIVE_SECRET_KEY", ""),
		Region:    env.String("AUDIT_ARCHIVE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("AUDIT_ARCHIVE_BUCKET", "pipeline-audit"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("AUDIT_ARCHIVE_ENDPOINT is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("AUDIT_ARCHIVE_ENDPOINT must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("AUDIT_ARCHIVE_ACCESS_KEY and AUDIT_ARCHIVE_SECRET_KEY are required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("AUDIT_ARCHIVE_REGION is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("AUDIT_ARCHIVE_BUCKET is required")
	}
	return nil
}
