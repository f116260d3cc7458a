package field

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Source produces the field and event collections. The store treats every
// source as an asynchronous completion regardless of how it is backed.
type Source interface {
	FetchFields(ctx context.Context) ([]Field, error)
	FetchEvents(ctx context.Context) ([]DeviceEvent, error)
}

// MockSource returns a small static dataset: two fields with an irrigation
// reel and a pump each. This is the demo dashboard's data source.
type MockSource struct{}

// FetchFields returns the static demo field collection.
func (MockSource) FetchFields(ctx context.Context) ([]Field, error) {
	return []Field{
		{
			ID:   1,
			Name: "North Field",
			Geometry: Geometry{
				Type: "Polygon",
				Coordinates: [][][]float64{{
					{-63.6862, 46.3516},
					{-63.6791, 46.3516},
					{-63.6791, 46.3482},
					{-63.6862, 46.3482},
					{-63.6862, 46.3516},
				}},
			},
		},
		{
			ID:   2,
			Name: "River Paddock",
			Geometry: Geometry{
				Type: "Polygon",
				Coordinates: [][][]float64{{
					{-63.6780, 46.3510},
					{-63.6712, 46.3505},
					{-63.6718, 46.3468},
					{-63.6775, 46.3471},
					{-63.6780, 46.3510},
				}},
			},
		},
	}, nil
}

// FetchEvents returns the static demo readings.
func (MockSource) FetchEvents(ctx context.Context) ([]DeviceEvent, error) {
	return []DeviceEvent{
		{
			FieldName: "North Field",
			Devices: map[string]Reading{
				"Reel-1": {Kind: KindReel, State: "running", RunSpeed: "18 m/h"},
				"Pump-1": {Kind: KindPressure, State: "ok", Pressure: 412.5},
			},
		},
		{
			FieldName: "River Paddock",
			Devices: map[string]Reading{
				"Reel-2": {Kind: KindReel, State: "stopped", RunSpeed: "0 m/h"},
			},
		},
	}, nil
}

// DirSource loads field exports and event exports from a data directory.
// Field files match FieldExport-*.json and contain a JSON array of fields;
// EventExport-*.json files contain a JSON array of device events.
type DirSource struct {
	Dir string
}

// FetchFields parses every FieldExport-*.json in the directory, in filename
// order. Files that fail to parse are skipped with a warning.
func (d DirSource) FetchFields(ctx context.Context) ([]Field, error) {
	pattern := filepath.Join(d.Dir, "FieldExport-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("finding field exports: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no FieldExport-*.json files found in %s", d.Dir)
	}

	var fields []Field
	for _, file := range files {
		batch, err := ParseFieldFile(file)
		if err != nil {
			log.Printf("Warning: failed to load %s: %v", filepath.Base(file), err)
			continue
		}
		fields = append(fields, batch...)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no parseable field exports in %s", d.Dir)
	}
	return fields, nil
}

// FetchEvents parses every EventExport-*.json in the directory. Missing
// event exports are not an error; the collection is simply empty.
func (d DirSource) FetchEvents(ctx context.Context) ([]DeviceEvent, error) {
	pattern := filepath.Join(d.Dir, "EventExport-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("finding event exports: %w", err)
	}

	var events []DeviceEvent
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("Warning: failed to read %s: %v", filepath.Base(file), err)
			continue
		}
		var batch []DeviceEvent
		if err := json.Unmarshal(data, &batch); err != nil {
			log.Printf("Warning: failed to parse %s: %v", filepath.Base(file), err)
			continue
		}
		events = append(events, batch...)
	}
	return events, nil
}

// ParseFieldFile reads one field export file.
func ParseFieldFile(path string) ([]Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading field export: %w", err)
	}
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parsing field export JSON: %w", err)
	}
	return fields, nil
}

// ExportName extracts the export label from a FieldExport filename.
// Example: "FieldExport-homefarm-20260301.json" -> "homefarm".
func ExportName(path string) string {
	base := filepath.Base(path)
	name := strings.TrimPrefix(base, "FieldExport-")
	name = strings.TrimSuffix(name, ".json")
	if i := strings.LastIndex(name, "-2"); i > 0 {
		name = name[:i]
	}
	return name
}

// StartFetch launches the two fetch operations as independent goroutines.
// Their completions are unordered relative to each other; each settles its
// own collection's status exactly once. There is no retry and no
// cancellation: a fetch in flight still completes and writes into the store.
// The returned channel closes when both fetches have settled.
func StartFetch(ctx context.Context, store *Store, src Source) <-chan struct{} {
	store.BeginFieldsFetch()
	store.BeginEventsFetch()

	done := make(chan struct{})
	fieldsDone := make(chan struct{})

	go func() {
		defer close(fieldsDone)
		fields, err := src.FetchFields(ctx)
		if err != nil {
			log.Printf("[FETCH] fields rejected: %v", err)
			store.FailFields(err)
			fetchResults.WithLabelValues("fields", "rejected").Inc()
			return
		}
		store.SetFields(fields)
		fetchResults.WithLabelValues("fields", "fulfilled").Inc()
		log.Printf("[FETCH] fields fulfilled: %d field(s)", len(fields))
	}()

	go func() {
		defer close(done)
		events, err := src.FetchEvents(ctx)
		if err != nil {
			log.Printf("[FETCH] events rejected: %v", err)
			store.FailEvents(err)
			fetchResults.WithLabelValues("events", "rejected").Inc()
		} else {
			store.SetEvents(events)
			fetchResults.WithLabelValues("events", "fulfilled").Inc()
			log.Printf("[FETCH] events fulfilled: %d event(s)", len(events))
		}
		<-fieldsDone
	}()

	return done
}
