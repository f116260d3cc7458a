package field

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func testFields() []Field {
	return []Field{
		{
			ID:   1,
			Name: "North",
			Geometry: Geometry{
				Type: "Polygon",
				Coordinates: [][][]float64{{
					{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0},
				}},
			},
		},
		{
			ID:   2,
			Name: "South",
			Geometry: Geometry{
				Type: "Polygon",
				Coordinates: [][][]float64{{
					{2, 0}, {2, 1}, {3, 1}, {3, 0}, {2, 0},
				}},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// NewStore
// ---------------------------------------------------------------------------

func TestNewStore(t *testing.T) {
	s := NewStore()
	if s == nil {
		t.Fatal("NewStore returned nil")
	}
	if len(s.Fields()) != 0 {
		t.Error("new store should have zero fields")
	}
	if _, ok := s.Selection(); ok {
		t.Error("new store should have no selection")
	}
	if status, _ := s.FieldsStatus(); status != FetchUnstarted {
		t.Errorf("fields status = %v, want unstarted", status)
	}
	if status, _ := s.EventsStatus(); status != FetchUnstarted {
		t.Errorf("events status = %v, want unstarted", status)
	}
}

// ---------------------------------------------------------------------------
// Fetch lifecycle
// ---------------------------------------------------------------------------

func TestStore_FetchLifecycle(t *testing.T) {
	t.Run("pending then fulfilled", func(t *testing.T) {
		s := NewStore()
		s.BeginFieldsFetch()
		if status, _ := s.FieldsStatus(); status != FetchPending {
			t.Errorf("status = %v, want pending", status)
		}
		s.SetFields(testFields())
		if status, _ := s.FieldsStatus(); status != FetchFulfilled {
			t.Errorf("status = %v, want fulfilled", status)
		}
	})

	t.Run("pending then rejected keeps prior data", func(t *testing.T) {
		s := NewStore()
		s.SetFields(testFields())
		s.BeginEventsFetch()
		s.FailFields(errors.New("boom"))

		status, err := s.FieldsStatus()
		if status != FetchRejected {
			t.Errorf("status = %v, want rejected", status)
		}
		if err == nil || err.Error() != "boom" {
			t.Errorf("err = %v, want boom", err)
		}
		if len(s.Fields()) != 2 {
			t.Errorf("rejected fetch should preserve stale data, got %d fields", len(s.Fields()))
		}
	})

	t.Run("begin is a no-op once settled", func(t *testing.T) {
		s := NewStore()
		s.BeginFieldsFetch()
		s.SetFields(testFields())
		s.BeginFieldsFetch()
		if status, _ := s.FieldsStatus(); status != FetchFulfilled {
			t.Errorf("status = %v, want fulfilled after settle", status)
		}
	})
}

// ---------------------------------------------------------------------------
// SetFields
// ---------------------------------------------------------------------------

func TestStore_SetFields_FullReplacement(t *testing.T) {
	s := NewStore()
	s.SetFields(testFields())
	if len(s.Fields()) != 2 {
		t.Fatalf("len(fields) = %d, want 2", len(s.Fields()))
	}

	// Second fetch fully replaces the first: no residual IDs
	replacement := []Field{{
		ID:   9,
		Name: "East",
		Geometry: Geometry{
			Type: "Polygon",
			Coordinates: [][][]float64{{
				{5, 5}, {5, 6}, {6, 6}, {5, 5},
			}},
		},
	}}
	s.SetFields(replacement)

	fields := s.Fields()
	if len(fields) != 1 {
		t.Fatalf("len(fields) = %d, want 1 after replacement", len(fields))
	}
	if fields[0].ID != 9 {
		t.Errorf("fields[0].ID = %d, want 9", fields[0].ID)
	}
	if _, ok := s.FieldByID(1); ok {
		t.Error("field 1 should be gone after replacement")
	}
}

func TestStore_SetFields_DistinctIDs(t *testing.T) {
	s := NewStore()
	s.SetFields(testFields())

	seen := make(map[int]bool)
	for _, f := range s.Fields() {
		if seen[f.ID] {
			t.Errorf("duplicate ID %d in field list", f.ID)
		}
		seen[f.ID] = true
	}
}

func TestStore_SetFields_ValidatesGeometryOnce(t *testing.T) {
	s := NewStore()
	bad := []Field{{
		ID:   1,
		Name: "Ragged",
		Geometry: Geometry{
			Type: "Polygon",
			Coordinates: [][][]float64{{
				{0, 0}, {0, 1}, {1}, {1, 1}, {1, 0}, {0, 0},
			}},
		},
	}}
	s.SetFields(bad)

	detail, ok := s.FieldByID(1)
	if !ok {
		t.Fatal("field 1 not found")
	}
	// One-element pair is filtered at the write boundary
	if len(detail.Boundary) != 5 {
		t.Errorf("len(Boundary) = %d, want 5", len(detail.Boundary))
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestStore_SetEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStoreWithClock(clock)

	s.SetEvents([]DeviceEvent{{
		FieldName: "North",
		Devices: map[string]Reading{
			"Reel-1": {Kind: KindReel, State: "running", RunSpeed: "18 m/h"},
		},
	}})

	ev, ok := s.LatestEventsForField("North")
	if !ok {
		t.Fatal("North events not found")
	}
	if !ev.ReceivedAt.Equal(clock.Now()) {
		t.Errorf("ReceivedAt = %v, want fake clock now %v", ev.ReceivedAt, clock.Now())
	}
	if ev.Devices["Reel-1"].State != "running" {
		t.Errorf("Reel-1 state = %q, want running", ev.Devices["Reel-1"].State)
	}
}

func TestStore_FailEvents_PreservesStaleData(t *testing.T) {
	s := NewStore()
	s.SetEvents([]DeviceEvent{{
		FieldName: "North",
		Devices:   map[string]Reading{"Pump-1": {Kind: KindPressure, State: "ok", Pressure: 400}},
	}})
	s.FailEvents(errors.New("fetch failed"))

	if status, _ := s.EventsStatus(); status != FetchRejected {
		t.Errorf("status = %v, want rejected", status)
	}
	if _, ok := s.LatestEventsForField("North"); !ok {
		t.Error("stale event data should remain visible after rejection")
	}
}

func TestStore_UpdateReading_AfterEventWithNoDevices(t *testing.T) {
	s := NewStore()
	// An event export entry can legitimately carry no readings; its device
	// map unmarshals as nil
	s.SetEvents([]DeviceEvent{{FieldName: "North"}})

	s.UpdateReading("North", "Reel-1", Reading{Kind: KindReel, State: "running", RunSpeed: "10 m/h"})

	ev, ok := s.LatestEventsForField("North")
	if !ok {
		t.Fatal("North events not found")
	}
	if ev.Devices["Reel-1"].State != "running" {
		t.Errorf("Reel-1 state = %q, want running", ev.Devices["Reel-1"].State)
	}
}

func TestStore_UpdateReading(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStoreWithClock(clock)

	s.UpdateReading("North", "Reel-1", Reading{Kind: KindReel, State: "running", RunSpeed: "12 m/h"})
	first := clock.Now()
	clock.Advance(30 * time.Second)

	// A newer reading from the same device replaces the old one
	s.UpdateReading("North", "Reel-1", Reading{Kind: KindReel, State: "stopped", RunSpeed: "0 m/h"})
	s.UpdateReading("North", "Pump-1", Reading{Kind: KindPressure, State: "ok", Pressure: 390})

	ev, ok := s.LatestEventsForField("North")
	if !ok {
		t.Fatal("North events not found")
	}
	if len(ev.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(ev.Devices))
	}
	if ev.Devices["Reel-1"].State != "stopped" {
		t.Errorf("Reel-1 state = %q, want stopped (newest reading wins)", ev.Devices["Reel-1"].State)
	}
	if !ev.ReceivedAt.After(first) {
		t.Errorf("ReceivedAt = %v, want after %v", ev.ReceivedAt, first)
	}
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

func TestStore_Selection(t *testing.T) {
	s := NewStore()
	s.SetFields(testFields())

	t.Run("select then clear", func(t *testing.T) {
		s.SelectField(1)
		id, ok := s.Selection()
		if !ok || id != 1 {
			t.Errorf("Selection() = (%d, %v), want (1, true)", id, ok)
		}
		s.ClearSelection()
		if _, ok := s.Selection(); ok {
			t.Error("selection should be absent after ClearSelection")
		}
	})

	t.Run("no validation on write", func(t *testing.T) {
		s.SelectField(999)
		id, ok := s.Selection()
		if !ok || id != 999 {
			t.Errorf("Selection() = (%d, %v), want (999, true) - store validates on read only", id, ok)
		}
		s.ClearSelection()
	})
}

// ---------------------------------------------------------------------------
// Snapshot persistence
// ---------------------------------------------------------------------------

func TestStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "fields.json")

	if err := SaveSnapshot(testFields(), path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	s := NewStoreWithSnapshot(path)
	if len(s.Fields()) != 2 {
		t.Fatalf("len(fields) = %d, want 2 from snapshot", len(s.Fields()))
	}
	if status, _ := s.FieldsStatus(); status != FetchFulfilled {
		t.Errorf("status = %v, want fulfilled after snapshot load", status)
	}

	// Geometry is re-validated on load
	if _, ok := s.FieldCenter(1); !ok {
		t.Error("field 1 center should be available after snapshot load")
	}
}

func TestNewStoreWithSnapshot_DoesNotRewriteOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.json")
	// Compact hand-written JSON; a save would reformat it
	raw := []byte(`[{"id":1,"name":"North","polygon":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}]`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStoreWithSnapshot(path)
	if len(s.Fields()) != 1 {
		t.Fatalf("len(fields) = %d, want 1 from snapshot", len(s.Fields()))
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(raw) {
		t.Error("loading a snapshot must not rewrite the snapshot file")
	}
}

func TestLoadSnapshot_Missing(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing snapshot file")
	}
}
