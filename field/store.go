package field

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Store is the normalized entity store behind the dashboard: fields keyed by
// ID (insertion order preserved), latest device events keyed by field name,
// a per-collection fetch status, and a single optional selected-field
// pointer. All access is serialized through the store's lock; getters return
// copies so callers never observe partial writes.
type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	fields map[int]*Field
	order  []int
	events map[string]*DeviceEvent

	fieldsStatus FetchStatus
	eventsStatus FetchStatus
	fieldsErr    error
	eventsErr    error

	selected *int

	snapshotPath string // path to field snapshot cache file; empty disables persistence
}

// NewStore creates an empty store using the real clock.
func NewStore() *Store {
	return NewStoreWithClock(clockwork.NewRealClock())
}

// NewStoreWithClock creates an empty store with an injected clock. Tests use
// a fake clock so latest-reading timestamps are deterministic.
func NewStoreWithClock(clock clockwork.Clock) *Store {
	return &Store{
		clock:  clock,
		fields: make(map[int]*Field),
		events: make(map[string]*DeviceEvent),
	}
}

// NewStoreWithSnapshot creates a store that persists its field collection to
// the given cache file. If the file exists, the cached snapshot is loaded on
// creation with fulfilled status. Persistence is enabled only after the
// initial load so startup does not rewrite the file it just read.
func NewStoreWithSnapshot(snapshotPath string) *Store {
	s := NewStore()
	if snapshotPath != "" {
		if fields, err := LoadSnapshot(snapshotPath); err == nil {
			s.SetFields(fields)
		}
	}
	s.snapshotPath = snapshotPath
	return s
}

// ---------------------------------------------------------------------------
// Fetch lifecycle
// ---------------------------------------------------------------------------

// BeginFieldsFetch marks the field collection pending. Once the collection
// has settled the status is terminal and this is a no-op.
func (s *Store) BeginFieldsFetch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fieldsStatus.Settled() {
		s.fieldsStatus = FetchPending
	}
}

// BeginEventsFetch marks the event collection pending.
func (s *Store) BeginEventsFetch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.eventsStatus.Settled() {
		s.eventsStatus = FetchPending
	}
}

// SetFields atomically replaces the entire field collection with the fetch
// result and marks it fulfilled. Geometry is validated here, once: invalid
// coordinate pairs are filtered and the sanitized polygon is attached to
// each field. A second call fully overwrites prior state.
func (s *Store) SetFields(fields []Field) {
	normalized := make(map[int]*Field, len(fields))
	order := make([]int, 0, len(fields))
	for i := range fields {
		f := fields[i]
		f.Polygon = BuildPolygon(f.Geometry, f.Name)
		if _, dup := normalized[f.ID]; !dup {
			order = append(order, f.ID)
		}
		normalized[f.ID] = &f
	}

	s.mu.Lock()
	s.fields = normalized
	s.order = order
	s.fieldsStatus = FetchFulfilled
	s.fieldsErr = nil
	snapshotPath := s.snapshotPath
	s.mu.Unlock()

	if snapshotPath != "" {
		if err := SaveSnapshot(fields, snapshotPath); err != nil {
			log.Printf("warning: failed to save field snapshot: %v", err)
		}
	}
}

// FailFields records a rejected field fetch. Prior field data, if any,
// remains visible (stale-but-present semantics).
func (s *Store) FailFields(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldsStatus = FetchRejected
	s.fieldsErr = err
}

// SetEvents atomically replaces the event collection, keyed by field name,
// and marks it fulfilled. Events without a receive timestamp are stamped
// with the store clock. A nil device map (an event export entry with no
// readings) is normalized to an empty one so later live updates can merge
// into it.
func (s *Store) SetEvents(events []DeviceEvent) {
	normalized := make(map[string]*DeviceEvent, len(events))
	now := s.clock.Now()
	for i := range events {
		ev := events[i]
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = now
		}
		if ev.Devices == nil {
			ev.Devices = make(map[string]Reading)
		}
		normalized[ev.FieldName] = &ev
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = normalized
	s.eventsStatus = FetchFulfilled
	s.eventsErr = nil
}

// FailEvents records a rejected event fetch, preserving prior event data.
func (s *Store) FailEvents(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsStatus = FetchRejected
	s.eventsErr = err
}

// UpdateReading merges a single live device reading into the field's event
// entry, replacing any prior reading from the same device. This is the MQTT
// ingest path; the fetch handlers above still replace collections wholesale.
func (s *Store) UpdateReading(fieldName, deviceName string, reading Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[fieldName]
	if !ok {
		ev = &DeviceEvent{
			FieldName: fieldName,
			Devices:   make(map[string]Reading),
		}
		s.events[fieldName] = ev
	}
	ev.Devices[deviceName] = reading
	ev.ReceivedAt = s.clock.Now()
	readingUpdates.WithLabelValues(string(reading.Kind)).Inc()
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

// SelectField sets the selection pointer. The store does not validate the ID
// on write; a dangling pointer surfaces as an error on read (SelectedField).
func (s *Store) SelectField(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = &id
}

// ClearSelection clears the selection pointer.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
}

// Selection returns the selected field ID, or false if nothing is selected.
func (s *Store) Selection() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return 0, false
	}
	return *s.selected, true
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// FieldsStatus returns the field collection's fetch status and, when
// rejected, the error that rejected it.
func (s *Store) FieldsStatus() (FetchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fieldsStatus, s.fieldsErr
}

// EventsStatus returns the event collection's fetch status.
func (s *Store) EventsStatus() (FetchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eventsStatus, s.eventsErr
}

// ---------------------------------------------------------------------------
// Snapshot persistence
// ---------------------------------------------------------------------------

// SaveSnapshot writes a field collection to disk as JSON.
func SaveSnapshot(fields []Field, path string) error {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal field snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write field snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a field collection from a JSON file on disk.
func LoadSnapshot(path string) ([]Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field snapshot: %w", err)
	}
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal field snapshot: %w", err)
	}
	return fields, nil
}
