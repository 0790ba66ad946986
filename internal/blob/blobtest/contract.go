// Package blobtest holds the behaviour every blob backend shares. Backend
// packages run it from their own tests.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"obsstore/internal/blob/core"
)

// Run exercises a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) core.Store) {
	t.Run("PutGetHead", func(t *testing.T) { testPutGetHead(t, open(t)) })
	t.Run("CreateOnly", func(t *testing.T) { testCreateOnly(t, open(t)) })
	t.Run("MissingKey", func(t *testing.T) { testMissing(t, open(t)) })
	t.Run("ListByPrefix", func(t *testing.T) { testList(t, open(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, open(t)) })
}

func put(t *testing.T, s core.Store, key, body string) core.Info {
	t.Helper()
	info, err := s.Put(context.Background(), key, strings.NewReader(body), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return info
}

func testPutGetHead(t *testing.T, s core.Store) {
	ctx := context.Background()
	info, err := s.Put(ctx, "series/1/export.ndjson", strings.NewReader("hello"), core.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata:    map[string]string{"series": "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "series/1/export.ndjson" || info.Size != 5 {
		t.Fatalf("unexpected put info %+v", info)
	}
	got, rc, err := s.Get(ctx, "series/1/export.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(body) != "hello" {
		t.Fatalf("unexpected body %q (%v)", body, err)
	}
	if got.ContentType != "application/x-ndjson" || got.Size != 5 {
		t.Fatalf("unexpected get info %+v", got)
	}
	head, err := s.Head(ctx, "series/1/export.ndjson")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Size != 5 || head.Metadata["series"] != "1" {
		t.Fatalf("unexpected head info %+v", head)
	}
}

func testCreateOnly(t *testing.T, s core.Store) {
	put(t, s, "a", "first")
	_, err := s.Put(context.Background(), "a", strings.NewReader("second"), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	if body, _ := io.ReadAll(rc); string(body) != "first" {
		t.Fatalf("existing blob overwritten: %q", body)
	}
}

func testMissing(t *testing.T, s core.Store) {
	ctx := context.Background()
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Head, got %v", err)
	}
}

func testList(t *testing.T, s core.Store) {
	for _, key := range []string{"b/2", "a/1", "b/1", "c"} {
		put(t, s, key, key)
	}
	infos, err := s.List(context.Background(), "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "b/1" || infos[1].Key != "b/2" {
		t.Fatalf("unexpected listing %+v", infos)
	}
	all, err := s.List(context.Background(), "")
	if err != nil || len(all) != 4 {
		t.Fatalf("expected four blobs, got %d (%v)", len(all), err)
	}
}

func testDelete(t *testing.T, s core.Store) {
	put(t, s, "gone", "x")
	ok, err := s.Delete(context.Background(), "gone")
	if err != nil || !ok {
		t.Fatalf("expected delete to report existing blob, got %v %v", ok, err)
	}
	ok, err = s.Delete(context.Background(), "gone")
	if err != nil || ok {
		t.Fatalf("expected second delete to report missing blob, got %v %v", ok, err)
	}
}
