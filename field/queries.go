package field

import "fmt"

// FieldDetail is a field augmented with its map-display boundary: the outer
// ring of the validated polygon converted to lat/lng pairs. Every pair is
// guaranteed finite because validation happened at the store-write boundary.
type FieldDetail struct {
	Field
	Boundary []LatLng `json:"boundary"`
}

// Fields returns all fields in fetch-result order.
func (s *Store) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Field, 0, len(s.order))
	for _, id := range s.order {
		if f, ok := s.fields[id]; ok {
			out = append(out, copyField(f))
		}
	}
	return out
}

// FieldByID resolves a field by identifier and augments it with its display
// boundary. Returns false, not an error, when the identifier is absent.
func (s *Store) FieldByID(id int) (FieldDetail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fields[id]
	if !ok {
		return FieldDetail{}, false
	}
	return FieldDetail{
		Field:    copyField(f),
		Boundary: OuterBoundary(f.Polygon),
	}, true
}

// FieldCenter computes a field's display center via the polygon centroid.
// Returns false when the field is absent or its center is unavailable.
func (s *Store) FieldCenter(id int) (LatLng, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fields[id]
	if !ok {
		return LatLng{}, false
	}
	return Center(f.Polygon)
}

// SelectedField resolves the full view of the currently selected field.
// Returns (nil, nil) when nothing is selected. A selection pointer that
// references a missing field is a programming error, not a recoverable
// condition, and fails loudly.
func (s *Store) SelectedField() (*FieldDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == nil {
		return nil, nil
	}
	id := *s.selected
	f, ok := s.fields[id]
	if !ok {
		return nil, fmt.Errorf("selection points at field %d which is not in the store", id)
	}
	return &FieldDetail{
		Field:    copyField(f),
		Boundary: OuterBoundary(f.Polygon),
	}, nil
}

// LatestEventsForField returns the newest reading per device for the named
// field, aggregated by the event's true field association. Returns false
// when no events exist for the field.
func (s *Store) LatestEventsForField(fieldName string) (DeviceEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[fieldName]
	if !ok {
		return DeviceEvent{}, false
	}
	return copyEvent(ev), true
}

// LatestEventsByField groups latest readings across all fields, keyed by
// field name.
func (s *Store) LatestEventsByField() map[string]DeviceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]DeviceEvent, len(s.events))
	for name, ev := range s.events {
		out[name] = copyEvent(ev)
	}
	return out
}

// copyField returns a field whose geometry does not share backing arrays
// with store state, so callers cannot mutate the store through a result.
func copyField(f *Field) Field {
	out := *f
	if f.Geometry.Coordinates != nil {
		coords := make([][][]float64, len(f.Geometry.Coordinates))
		for i, ring := range f.Geometry.Coordinates {
			r := make([][]float64, len(ring))
			for j, pair := range ring {
				r[j] = append([]float64(nil), pair...)
			}
			coords[i] = r
		}
		out.Geometry.Coordinates = coords
	}
	out.Polygon = f.Polygon.Clone()
	return out
}

func copyEvent(ev *DeviceEvent) DeviceEvent {
	devices := make(map[string]Reading, len(ev.Devices))
	for name, r := range ev.Devices {
		devices[name] = r
	}
	return DeviceEvent{
		FieldName:  ev.FieldName,
		Devices:    devices,
		ReceivedAt: ev.ReceivedAt,
	}
}
