package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

// Exporter ships intervention records to external systems.
type Exporter interface {
	Export(ctx context.Context, record domain.Intervention) error
}

type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, record domain.Intervention) error { return nil }

// NDJSONExporter writes one JSON line per record.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, record domain.Intervention) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(exportRecordFrom(record))
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ArchiveExporter stores each record as its own NDJSON object under
// interventions/{execution_id}/{id}.ndjson.
type ArchiveExporter struct {
	client objectPutter
	bucket string
}

func NewArchiveExporter(client objectPutter, bucket string) (*ArchiveExporter, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &ArchiveExporter{client: client, bucket: bucket}, nil
}

func ArchiveKey(record domain.Intervention) string {
	return path.Join("interventions", record.ExecutionID, record.ID+".ndjson")
}

func (e *ArchiveExporter) Export(ctx context.Context, record domain.Intervention) error {
	var buf bytes.Buffer
	if err := NewNDJSONExporter(&buf).Export(ctx, record); err != nil {
		return fmt.Errorf("encode intervention: %w", err)
	}
	_, err := e.client.PutObject(ctx, e.bucket, ArchiveKey(record), &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
		UserMetadata: map[string]string{
			"integrity-sha256": record.IntegritySHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", ArchiveKey(record), err)
	}
	return nil
}

type exportRecord struct {
	ID              string `json:"id"`
	ExecutionID     string `json:"execution_id"`
	Type            string `json:"intervention_type"`
	TargetStage     string `json:"target_stage,omitempty"`
	Reason          string `json:"reason"`
	PerformedBy     string `json:"performed_by"`
	RequestID       string `json:"request_id,omitempty"`
	CreatedAt       string `json:"created_at"`
	IntegritySHA256 string `json:"integrity_sha256"`
}

func exportRecordFrom(record domain.Intervention) exportRecord {
	return exportRecord{
		ID:              record.ID,
		ExecutionID:     record.ExecutionID,
		Type:            string(record.Type),
		TargetStage:     record.TargetStage,
		Reason:          record.Reason,
		PerformedBy:     record.PerformedBy,
		RequestID:       record.RequestID,
		CreatedAt:       record.CreatedAt.UTC().Format(timeFormatRFC3339Nano),
		IntegritySHA256: record.IntegritySHA256,
	}
}

const timeFormatRFC3339Nano = "2006-01-02T15:04:05.999999999Z07:00"
