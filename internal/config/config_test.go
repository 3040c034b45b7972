package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
	"github.com/bleepstore/s3pipe/internal/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Server.Port != 9300 {
		t.Errorf("Server.Port = %d, want 9300", cfg.Server.Port)
	}
	if cfg.Journal.Engine != "sqlite" {
		t.Errorf("Journal.Engine = %q, want sqlite", cfg.Journal.Engine)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s3pipe.yaml")
	content := `
server:
  port: 9400
logging:
  level: debug
  format: json
journal:
  engine: memory
metrics:
  enabled: false
transfer:
  region: eu-west-2
  part-size: 8388608
  aws-sdk-use-http: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9400 {
		t.Errorf("Server.Port = %d, want 9400", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default", cfg.Server.Host)
	}
	if cfg.Logging != (logging.Options{Level: "debug", Format: "json"}) {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Journal.Engine != "memory" {
		t.Errorf("Journal.Engine = %q", cfg.Journal.Engine)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics should be disabled")
	}
	if cfg.Transfer["part-size"] != "8388608" || cfg.Transfer["aws-sdk-use-http"] != "true" {
		t.Errorf("Transfer = %v", cfg.Transfer)
	}

	b := NewBuilder(logging.Discard())
	if err := b.SetAll(cfg.Transfer); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}
	snap := b.Snapshot()
	if snap.Region != "eu-west-2" || snap.PartSize != 8388608 || !snap.UseHTTP {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestLoadJournalEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s3pipe.yaml")
	content := `
journal:
  engine: dynamodb
  dynamodb:
    table: transfers
    region: eu-central-1
    endpoint_url: http://localhost:8000
  firestore:
    project_id: demo
    collection: s3pipe
  cosmos:
    endpoint: https://acct.documents.azure.com:443/
    database: s3pipe
    container: transfers
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := DynamoDBConfig{Table: "transfers", Region: "eu-central-1", EndpointURL: "http://localhost:8000"}
	if cfg.Journal.DynamoDB != want {
		t.Errorf("DynamoDB = %+v, want %+v", cfg.Journal.DynamoDB, want)
	}
	if cfg.Journal.Firestore.ProjectID != "demo" || cfg.Journal.Firestore.Collection != "s3pipe" {
		t.Errorf("Firestore = %+v", cfg.Journal.Firestore)
	}
	if cfg.Journal.Cosmos.Database != "s3pipe" || cfg.Journal.Cosmos.MasterKey != "" {
		t.Errorf("Cosmos = %+v", cfg.Journal.Cosmos)
	}
	if cfg.Journal.SQLite.Path != "./data/journal.db" {
		t.Errorf("SQLite.Path = %q, want default", cfg.Journal.SQLite.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("server: [unterminated"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		loc      string
		provider Provider
		bucket   string
		key      string
		wantErr  bool
	}{
		{"s3://my-bucket/path/to/obj.ts", ProviderS3, "my-bucket", "path/to/obj.ts", false},
		{"gs://media/out.mp4", ProviderGCS, "media", "out.mp4", false},
		{"gcs://media/out.mp4", ProviderGCS, "media", "out.mp4", false},
		{"az://container/blob.bin", ProviderAzure, "container", "blob.bin", false},
		{"azure://container/blob.bin", ProviderAzure, "container", "blob.bin", false},
		{"file:///var/data/out.bin", ProviderFile, "/var/data", "out.bin", false},
		{"mem://bucket/key", ProviderMemory, "bucket", "key", false},
		{"S3://Upper/key", ProviderS3, "Upper", "key", false},
		{"s3://bucket/clip#1.mp4", ProviderS3, "bucket", "clip#1.mp4", false},
		{"s3://bucket/a?b.bin", ProviderS3, "bucket", "a?b.bin", false},
		{"s3://bucket/50%.bin", ProviderS3, "bucket", "50%.bin", false},
		{"s3://bucket/a%20b", ProviderS3, "bucket", "a%20b", false},
		{"gs://media/dir/x?v=1#frag", ProviderGCS, "media", "dir/x?v=1#frag", false},
		{"file:///tmp/take#2.bin", ProviderFile, "/tmp", "take#2.bin", false},
		{"s3://bucket-only", "", "", "", true},
		{"s3:///key-only", "", "", "", true},
		{"ftp://host/file", "", "", "", true},
		{"file:///", "", "", "", true},
		{"://broken", "", "", "", true},
		{"bucket/key", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.loc, func(t *testing.T) {
			p, bucket, key, err := ParseLocation(tt.loc)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s %s %s", p, bucket, key)
				}
				if !errors.Is(err, s3err.ErrConfig) {
					t.Errorf("error should be ConfigError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p != tt.provider || bucket != tt.bucket || key != tt.key {
				t.Errorf("got (%s, %s, %s), want (%s, %s, %s)", p, bucket, key, tt.provider, tt.bucket, tt.key)
			}
		})
	}
}

func TestFormatLocationRoundTrip(t *testing.T) {
	for _, loc := range []string{
		"s3://b/k/x",
		"gs://b/k",
		"az://c/blob",
		"file:///tmp/out.bin",
		"mem://b/k",
		"s3://b/clip#1.mp4",
		"s3://b/a?b.bin",
		"s3://b/50%.bin",
		"az://c/a%20b",
		"file:///tmp/x#y?z%.bin",
	} {
		p, bucket, key, err := ParseLocation(loc)
		if err != nil {
			t.Fatalf("ParseLocation(%q): %v", loc, err)
		}
		if got := FormatLocation(p, bucket, key); got != loc {
			t.Errorf("FormatLocation = %q, want %q", got, loc)
		}
	}
}
