// Package export delivers the edited node list to where the map data lives.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/engine"
)

// Payload is the nodes.json file shape written by FileSink. HTTPSink posts the
// bare record array and leaves wrapping to the receiver.
type Payload struct {
	Items []engine.NodeRecord `json:"items"`
}

// HTTPSink POSTs the node list to a fixed URL as a bare JSON array of
// {id, coords, connected} records
type HTTPSink struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewHTTPSink creates a sink posting to url. Each publish is bounded by timeout.
func NewHTTPSink(url string, timeout time.Duration, log *zap.Logger) *HTTPSink {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Publish implements engine.ExportSink
func (s *HTTPSink) Publish(ctx context.Context, records []engine.NodeRecord) error {
	body, err := json.Marshal(nonNil(records))
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("export endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	s.log.Debug("nodes exported", zap.String("url", s.url), zap.Int("count", len(records)))
	return nil
}

// FileSink writes the node list to a JSON file, the same shape the definitions
// manager reads back as nodes.json
type FileSink struct {
	path string
	log  *zap.Logger
}

// NewFileSink creates a sink writing to path
func NewFileSink(path string, log *zap.Logger) *FileSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileSink{path: path, log: log}
}

// Publish implements engine.ExportSink
func (s *FileSink) Publish(ctx context.Context, records []engine.NodeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(Payload{Items: nonNil(records)}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write nodes: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write nodes: %w", err)
	}

	s.log.Debug("nodes exported", zap.String("path", s.path), zap.Int("count", len(records)))
	return nil
}

func nonNil(records []engine.NodeRecord) []engine.NodeRecord {
	if records == nil {
		return []engine.NodeRecord{}
	}
	return records
}
