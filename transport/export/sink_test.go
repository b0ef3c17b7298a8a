package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wricardo/wellmap/game/engine"
)

var testRecords = []engine.NodeRecord{
	{ID: 1, Coords: engine.Point{X: 10, Y: 20}, Connected: []int{2}},
	{ID: 2, Coords: engine.Point{X: 30, Y: 40}, Connected: []int{1}},
}

func TestHTTPSink_Publish(t *testing.T) {
	var got []engine.NodeRecord
	var method, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, time.Second, nil)
	if err := sink.Publish(context.Background(), testRecords); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if method != http.MethodPost || contentType != "application/json" {
		t.Errorf("Unexpected request: %s %s", method, contentType)
	}
	if len(got) != 2 || got[1].Coords != (engine.Point{X: 30, Y: 40}) {
		t.Errorf("Unexpected payload: %+v", got)
	}
}

func TestHTTPSink_PostsBareArray(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	records := []engine.NodeRecord{{ID: 1, Coords: engine.Point{X: 2, Y: 3}, Connected: []int{}}}
	if err := NewHTTPSink(server.URL, time.Second, nil).Publish(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	if got := string(bytes.TrimSpace(body)); got != `[{"id":1,"coords":[3,2],"connected":[]}]` {
		t.Errorf("Expected a bare record array, got %s", got)
	}

	if err := NewHTTPSink(server.URL, time.Second, nil).Publish(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if got := string(bytes.TrimSpace(body)); got != "[]" {
		t.Errorf("Expected empty array for no nodes, got %s", got)
	}
}

func TestHTTPSink_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer server.Close()

		if err := NewHTTPSink(server.URL, time.Second, nil).Publish(context.Background(), nil); err == nil {
			t.Error("Expected error for 500 response")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		if err := NewHTTPSink(server.URL, 20*time.Millisecond, nil).Publish(context.Background(), testRecords); err == nil {
			t.Error("Expected timeout error")
		}
	})
}

func TestFileSink_Publish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nodes.json")
	sink := NewFileSink(path, nil)

	if err := sink.Publish(context.Background(), testRecords); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	records, err := engine.ParseNodes(data)
	if err != nil {
		t.Fatalf("Export should parse as node definitions: %v", err)
	}
	if len(records) != 2 || records[0].Connected[0] != 2 {
		t.Errorf("Unexpected records: %+v", records)
	}

	if err := sink.Publish(context.Background(), nil); err != nil {
		t.Fatalf("Publish of empty list failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	var payload map[string]json.RawMessage
	json.Unmarshal(data, &payload)
	if string(payload["items"]) != "[]" {
		t.Errorf("Expected empty items array, got %s", payload["items"])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Publish(ctx, testRecords); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
