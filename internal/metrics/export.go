package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/realtime-progress/internal/progress"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ErrUnknownFormat is returned for export formats other than json and text.
var ErrUnknownFormat = errors.New("unknown export format")

// BlobStore receives exported snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// TaskLister enumerates live task state.
type TaskLister interface {
	Snapshots() []progress.Snapshot
}

// Exporter renders the performance view of every task in the registry,
// merged with any custom metrics the collector holds for it.
type Exporter struct {
	collector *Collector
	source    TaskLister
	now       func() time.Time
}

// NewExporter builds an Exporter over the collector and live task state.
func NewExporter(collector *Collector, source TaskLister) *Exporter {
	return &Exporter{
		collector: collector,
		source:    source,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export writes an object keyed by task id. The task list comes from the
// registry, so it does not depend on lifecycle events having been delivered.
func (e *Exporter) Export(w io.Writer, format string) error {
	snaps := e.source.Snapshots()
	doc := make(map[string]any, len(snaps))
	for _, snap := range snaps {
		custom, _ := e.collector.Custom(snap.TaskID)
		doc[snap.TaskID] = performanceView(snap, custom)
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json export: %w", err)
		}
	case FormatText:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode text export: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush text export: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return nil
}

// ExportTo renders the export and stores it as
// <prefix>/metrics-<timestamp>.<ext>, returning the store's URI.
func (e *Exporter) ExportTo(ctx context.Context, store BlobStore, prefix, format string) (uri string, err error) {
	defer func() { ObserveExport(format, err) }()

	var buf bytes.Buffer
	if err := e.Export(&buf, format); err != nil {
		return "", err
	}
	ext, contentType := "json", "application/json"
	if format == FormatText {
		ext, contentType = "yaml", "application/yaml"
	}
	name := fmt.Sprintf("metrics-%s.%s", e.now().Format("20060102T150405Z"), ext)
	uri, err = store.PutObject(ctx, path.Join(prefix, name), contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return uri, nil
}
