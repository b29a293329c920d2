package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	key := HashKey("salt", "client-key-1")

	rec := Record{
		StatusCode: 201,
		Response:   []byte(`{"status":"sent"}`),
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	if err := store.Save(context.Background(), key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.StatusCode != 201 {
		t.Fatalf("expected stored record, got %+v", got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	key := HashKey("salt", "client-key-2")

	rec := Record{
		StatusCode: 200,
		Response:   []byte(`{}`),
		CreatedAt:  time.Now().Add(-2 * time.Minute),
		ExpiresAt:  time.Now().Add(-time.Minute),
	}
	if err := store.Save(context.Background(), key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired record to be absent, got %+v", got)
	}
}

func TestHashKeySaltSeparation(t *testing.T) {
	if HashKey("salt-a", "key") == HashKey("salt-b", "key") {
		t.Fatal("different salts must produce different storage keys")
	}
	if HashKey("salt", "key") != HashKey("salt", "key") {
		t.Fatal("hashing must be deterministic")
	}
}
