package session

import (
	"context"
	"os"
	"testing"
	"time"
)

// Set WELLMAP_TEST_DSN to run against a disposable database
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("WELLMAP_TEST_DSN")
	if dsn == "" {
		t.Skip("WELLMAP_TEST_DSN not set")
	}

	store, err := NewPostgresStore(context.Background(), dsn, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	defer store.Close()

	keys, _ := store.Keys("")
	for _, k := range keys {
		store.Delete(k)
	}
	testKVStore(t, store)
}
