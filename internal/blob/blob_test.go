package blob

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory open: %v", err)
	}
	root := filepath.Join(t.TempDir(), "nested", "archive")
	fsStore, err := Open(ctx, Config{Root: root})
	if err != nil {
		t.Fatalf("fs open: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("empty driver should select fs, got %s", fsStore.Driver())
	}
	if _, err := fsStore.Put(ctx, "k", strings.NewReader("v"), PutOptions{}); err != nil {
		t.Fatalf("fs put: %v", err)
	}

	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	s3Store, err := Open(ctx, Config{Driver: DriverS3, S3: S3Config{Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"}})
	if err != nil || s3Store.Driver() != DriverS3 {
		t.Fatalf("s3 open: %v", err)
	}
	if store, err := Open(ctx, Config{Driver: DriverS3}); err == nil || store != nil {
		t.Fatalf("expected missing bucket error, got %v %v", store, err)
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OBSSTORE_BLOB_DRIVER", "s3")
	t.Setenv("OBSSTORE_BLOB_FS_ROOT", "/data/archive")
	t.Setenv("OBSSTORE_BLOB_S3_BUCKET", "exports")
	t.Setenv("OBSSTORE_BLOB_S3_REGION", "eu-central-1")
	t.Setenv("OBSSTORE_BLOB_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("OBSSTORE_BLOB_S3_PATH_STYLE", "TRUE")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverS3 || cfg.Root != "/data/archive" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.S3.Bucket != "exports" || cfg.S3.Region != "eu-central-1" || cfg.S3.Endpoint != "http://minio:9000" || !cfg.S3.PathStyle {
		t.Fatalf("unexpected s3 config %+v", cfg.S3)
	}
}

// Backends stay behind this package.
func TestOnlyBlobPackageImportsBackends(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: false}
	pkgs, err := packages.Load(cfg, "obsstore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	const backends = "obsstore/internal/infra/blob/"
	for _, p := range pkgs {
		if p.PkgPath == "obsstore/internal/blob" || strings.HasPrefix(p.PkgPath, backends) {
			continue
		}
		for imp := range p.Imports {
			if strings.HasPrefix(imp, backends) {
				t.Errorf("%s imports %s directly; use obsstore/internal/blob", p.PkgPath, imp)
			}
		}
	}
}
