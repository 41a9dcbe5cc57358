package auditlog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

func sampleRecord() domain.Intervention {
	return domain.Intervention{
		ID:          "int-1",
		ExecutionID: "E1",
		Type:        domain.InterventionRetryStage,
		TargetStage: "security-scan",
		Reason:      "rerun after network blip",
		PerformedBy: "ops@example.com",
		RequestID:   "req-123",
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	a, err := ComputeIntegritySHA256(sampleRecord())
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(sampleRecord())
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnReason(t *testing.T) {
	rec := sampleRecord()
	a, _ := ComputeIntegritySHA256(rec)
	rec.Reason = "something else"
	b, _ := ComputeIntegritySHA256(rec)
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

type fakeExecer struct {
	query string
	args  []any
	err   error
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args
	return nil, f.err
}

func TestInsertPreparesRecord(t *testing.T) {
	rec := sampleRecord()
	rec.ID = ""
	rec.CreatedAt = time.Time{}
	db := &fakeExecer{}

	got, err := Insert(context.Background(), db, rec)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Fatalf("id and created_at must be assigned: %+v", got)
	}
	if !Verify(got) {
		t.Fatalf("integrity hash does not verify")
	}
	if !strings.Contains(db.query, "INSERT INTO pipeline_interventions") || len(db.args) != 9 {
		t.Fatalf("query=%q args=%d", db.query, len(db.args))
	}
	if db.args[2] != "retry_stage" {
		t.Fatalf("type arg=%v", db.args[2])
	}
}

func TestInsertRejectsMissingReason(t *testing.T) {
	rec := sampleRecord()
	rec.Reason = "  "
	db := &fakeExecer{}
	_, err := Insert(context.Background(), db, rec)
	if !errors.Is(err, domain.ErrMissingReason) {
		t.Fatalf("err=%v, want ErrMissingReason", err)
	}
	if db.query != "" {
		t.Fatalf("nothing may be written without a reason")
	}
}

func TestInsertWrapsStoreError(t *testing.T) {
	_, err := Insert(context.Background(), &fakeExecer{err: errors.New("disk full")}, sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "insert intervention") {
		t.Fatalf("err=%v", err)
	}
}

type fakePutter struct {
	bucket string
	key    string
	body   []byte
	opts   minio.PutObjectOptions
}

func (f *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.bucket = bucketName
	f.key = objectName
	f.opts = opts
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.body = body
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestArchiveExporterWritesNDJSON(t *testing.T) {
	rec, err := Prepare(sampleRecord(), time.Now())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	client := &fakePutter{}
	exp, err := NewArchiveExporter(client, "pipeline-audit")
	if err != nil {
		t.Fatalf("NewArchiveExporter: %v", err)
	}
	if err := exp.Export(context.Background(), rec); err != nil {
		t.Fatalf("Export: %v", err)
	}

	if client.bucket != "pipeline-audit" || client.key != "interventions/E1/int-1.ndjson" {
		t.Fatalf("bucket=%q key=%q", client.bucket, client.key)
	}
	if client.opts.UserMetadata["integrity-sha256"] != rec.IntegritySHA256 {
		t.Fatalf("metadata=%v", client.opts.UserMetadata)
	}
	if !bytes.HasSuffix(client.body, []byte("\n")) {
		t.Fatalf("expected newline-terminated record")
	}
	var decoded map[string]any
	if err := json.Unmarshal(client.body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["intervention_type"] != "retry_stage" || decoded["target_stage"] != "security-scan" {
		t.Fatalf("decoded=%v", decoded)
	}
}
