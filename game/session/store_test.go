package session

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testKVStore(t *testing.T, store KVStore) {
	t.Helper()

	if _, ok, err := store.Get("missing"); ok || err != nil {
		t.Errorf("Get(missing) = ok %v, err %v", ok, err)
	}

	for k, v := range map[string]string{
		"abcd.tiles":        "[[true]]",
		"abcd.found":        `["e1"]`,
		"abce.found":        "[]",
		"session:abcd":      `{"id":"abcd"}`,
		"weird/key with sp": "x",
	} {
		if err := store.Set(k, v); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}

	v, ok, err := store.Get("abcd.found")
	if err != nil || !ok || v != `["e1"]` {
		t.Errorf("Get(abcd.found) = %q, %v, %v", v, ok, err)
	}

	store.Set("abcd.found", `["e1","e2"]`)
	v, _, _ = store.Get("abcd.found")
	if v != `["e1","e2"]` {
		t.Errorf("Expected overwrite, got %q", v)
	}

	keys, err := store.Keys("abcd.")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"abcd.found", "abcd.tiles"}) {
		t.Errorf("Unexpected keys: %v", keys)
	}

	all, _ := store.Keys("")
	if len(all) != 5 {
		t.Errorf("Expected 5 keys, got %v", all)
	}

	if err := store.Delete("abcd.tiles"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("abcd.tiles"); err != nil {
		t.Errorf("Deleting a missing key should not fail: %v", err)
	}
	if _, ok, _ := store.Get("abcd.tiles"); ok {
		t.Error("Expected key deleted")
	}
}

func TestMemoryStore(t *testing.T) {
	testKVStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	testKVStore(t, store)

	t.Run("keys stay inside the directory", func(t *testing.T) {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if e.IsDir() {
				t.Errorf("Unexpected subdirectory %s", e.Name())
			}
		}
	})

	t.Run("reopen", func(t *testing.T) {
		reopened, _ := NewFileStore(dir)
		v, ok, _ := reopened.Get("session:abcd")
		if !ok || v != `{"id":"abcd"}` {
			t.Errorf("Expected value after reopen, got %q", v)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644)
		if _, _, err := store.Get("bad"); err == nil {
			t.Error("Expected error for corrupt file")
		}
	})
}

func TestStorePersistence(t *testing.T) {
	store := NewMemoryStore()
	p := NewStorePersistence(store)

	if _, err := p.Load("abcd"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	data := PersistedSessionData{ID: "abcd", Editor: true}
	if err := p.Save(data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Set("abcd.tiles", "x")
	store.Set("abcde.tiles", "y")

	if !p.Exists("abcd") {
		t.Error("Expected session to exist")
	}
	loaded, err := p.Load("abcd")
	if err != nil || !loaded.Editor {
		t.Errorf("Load = %+v, %v", loaded, err)
	}

	ids, _ := p.ListAll()
	if !reflect.DeepEqual(ids, []string{"abcd"}) {
		t.Errorf("Unexpected ids: %v", ids)
	}

	if err := p.Delete("abcd"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	keys, _ := store.Keys("")
	if !reflect.DeepEqual(keys, []string{"abcde.tiles"}) {
		t.Errorf("Expected only the other session's key left, got %v", keys)
	}
	if err := p.Delete("abcd"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}
