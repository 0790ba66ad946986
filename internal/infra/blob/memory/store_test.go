package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"obsstore/internal/blob/blobtest"
	"obsstore/internal/blob/core"
)

func TestStoreContract(t *testing.T) {
	blobtest.Run(t, func(*testing.T) core.Store { return New() })
}

func TestMetadataIsCopied(t *testing.T) {
	s := New()
	md := map[string]string{"k": "v"}
	if _, err := s.Put(context.Background(), "x", strings.NewReader("1"), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["k"] = "changed"
	info, err := s.Head(context.Background(), "x")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.Metadata["k"] != "v" {
		t.Fatalf("stored metadata aliased caller map")
	}
	info.Metadata["k"] = "mutated"
	again, _ := s.Head(context.Background(), "x")
	if again.Metadata["k"] != "v" {
		t.Fatalf("returned metadata aliased stored map")
	}
}

func TestRejectsEmptyKeyAndPresign(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), " ", strings.NewReader(""), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if _, err := s.PresignURL(context.Background(), "x", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
}
