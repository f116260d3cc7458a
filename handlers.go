package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwv/fieldmesh/field"
)

// newHTTPServer creates an HTTP server with all dashboard endpoints
func newHTTPServer(store *field.Store, config *field.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		fieldsStatus, _ := store.FieldsStatus()
		eventsStatus, _ := store.EventsStatus()
		writeJSON(w, struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Fields    string    `json:"fields"`
			Events    string    `json:"events"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Fields:    fieldsStatus.String(),
			Events:    eventsStatus.String(),
		})
	})

	// All fields, in fetch-result order
	mux.HandleFunc("GET /api/fields", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.Fields())
	})

	// One field, augmented with display boundary and center
	mux.HandleFunc("GET /api/fields/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid field id", http.StatusBadRequest)
			return
		}

		detail, ok := store.FieldByID(id)
		if !ok {
			http.Error(w, "field not found", http.StatusNotFound)
			return
		}

		resp := struct {
			field.FieldDetail
			Center *field.LatLng `json:"center,omitempty"`
		}{FieldDetail: detail}
		if center, ok := store.FieldCenter(id); ok {
			resp.Center = &center
		}
		writeJSON(w, resp)
	})

	// Latest reading per device for one field
	mux.HandleFunc("GET /api/fields/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid field id", http.StatusBadRequest)
			return
		}

		detail, ok := store.FieldByID(id)
		if !ok {
			http.Error(w, "field not found", http.StatusNotFound)
			return
		}

		ev, ok := store.LatestEventsForField(detail.Name)
		if !ok {
			// A field with no readings is an empty event, not an error
			ev = field.DeviceEvent{FieldName: detail.Name, Devices: map[string]field.Reading{}}
		}
		writeJSON(w, ev)
	})

	// Selection: the single selected-field pointer
	mux.HandleFunc("GET /api/selection", func(w http.ResponseWriter, r *http.Request) {
		detail, err := store.SelectedField()
		if err != nil {
			// Dangling selection is a programming error; surface it loudly
			log.Printf("[HTTP] selection invariant violated: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if detail == nil {
			http.Error(w, "no field selected", http.StatusNotFound)
			return
		}
		writeJSON(w, detail)
	})

	mux.HandleFunc("POST /api/selection", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID int `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid selection body", http.StatusBadRequest)
			return
		}
		// The store does not validate on write; a bad id surfaces on read
		store.SelectField(body.ID)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /api/selection", func(w http.ResponseWriter, r *http.Request) {
		store.ClearSelection()
		w.WriteHeader(http.StatusNoContent)
	})

	// Field map endpoints
	mux.HandleFunc("GET /field-map.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer, ok := mapRenderer(store, config)
		if !ok {
			http.Error(w, "No fields available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering field map SVG: %v", err)
		}
	})

	mux.HandleFunc("GET /field-map.png", func(w http.ResponseWriter, r *http.Request) {
		renderer, ok := mapRenderer(store, config)
		if !ok {
			http.Error(w, "No fields available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error rendering field map PNG: %v", err)
		}
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// mapRenderer builds a renderer over the store's current fields and events.
// Returns false when the store has no fields to draw.
func mapRenderer(store *field.Store, config *field.Config) (*field.MapRenderer, bool) {
	fields := store.Fields()
	if len(fields) == 0 {
		return nil, false
	}
	var styles []field.FieldStyle
	if config != nil {
		styles = config.Render.Styles
	}
	renderer := field.NewMapRenderer(fields, store.LatestEventsByField(), styles)
	if config != nil && config.Render.PaddingMeters > 0 {
		renderer.Padding = config.Render.PaddingMeters
	}
	return renderer, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
