package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/codymaki/Bokudos-stagebuilder/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()
	meta := map[string]string{"stage_id": "4"}
	info, err := store.Put(ctx, "stages/4/a.json", bytes.NewReader([]byte("payload")), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["stage_id"] = "mutated"
	if info.Size != 7 || info.ETag == "" || store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected info %+v", info)
	}

	head, err := store.Head(ctx, "stages/4/a.json")
	if err != nil || head.Metadata["stage_id"] != "4" {
		t.Fatalf("metadata must be copied on put: %+v %v", head, err)
	}
	head.Metadata["stage_id"] = "changed"
	again, _ := store.Head(ctx, "stages/4/a.json")
	if again.Metadata["stage_id"] != "4" {
		t.Fatalf("metadata must be copied on read")
	}

	_, rc, err := store.Get(ctx, "stages/4/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Put(ctx, "stages/4/a.json", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if ok, _ := store.Delete(ctx, "stages/4/a.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := store.Delete(ctx, "stages/4/a.json"); ok {
		t.Fatalf("expected second delete to report absence")
	}
	if _, _, err := store.Get(ctx, "stages/4/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "stages/4/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPrefixOrdering(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	list, err := store.List(ctx, "b/")
	if err != nil || len(list) != 2 || list[0].Key != "b/1" || list[1].Key != "b/2" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
}

func TestPutValidation(t *testing.T) {
	store := New()
	if _, err := store.Put(context.Background(), " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, "k", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled context, got %v", err)
	}
}
