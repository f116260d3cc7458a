package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/paulmach/orb/geo"

	"github.com/kwv/fieldmesh/field"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *field.Config
	Store      *field.Store
	MQTTClient *field.MQTTClient
	Publisher  *field.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	DataDir      string
	SnapshotPath string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	MockData     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store: field.NewStore(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.SnapshotPath = opts.SnapshotPath
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.MockData = opts.MockData
}

// source returns the configured field/event source: the built-in demo
// dataset with --mock, otherwise the data directory exports.
func (a *App) source() field.Source {
	if a.MockData {
		return field.MockSource{}
	}
	return field.DirSource{Dir: a.DataDir}
}

// RunParseOnly finds and parses all field exports and prints a summary
func (a *App) RunParseOnly() {
	pattern := filepath.Join(a.DataDir, "FieldExport-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		log.Fatalf("Error finding field exports: %v", err)
	}

	if len(files) == 0 {
		// Try current directory
		files, _ = filepath.Glob("FieldExport-*.json")
	}

	if len(files) == 0 {
		log.Fatal("No FieldExport-*.json files found")
	}

	fmt.Printf("Found %d field export(s)\n\n", len(files))

	for _, file := range files {
		a.parseAndPrint(file)
	}
}

func (a *App) parseAndPrint(path string) {
	name := field.ExportName(path)

	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("File: %s\n", path)

	fields, err := field.ParseFieldFile(path)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}

	fmt.Printf("Fields: %d\n", len(fields))
	for _, f := range fields {
		poly := field.BuildPolygon(f.Geometry, f.Name)
		vertices := 0
		if len(poly) > 0 {
			vertices = len(poly[0])
		}
		fmt.Printf("  [%d] %s: %d boundary vertices", f.ID, f.Name, vertices)
		if center, ok := field.Center(poly); ok {
			fmt.Printf(", center (%.4f, %.4f)", center.Lat, center.Lng)
		}
		if len(poly) > 0 {
			areaHa := geo.Area(poly) / 10000
			fmt.Printf(", %.1f ha", areaHa)
		}
		fmt.Println()
	}
	fmt.Println()
}

// RunRender fetches the field collection and writes the map as SVG and/or PNG
func (a *App) RunRender() {
	src := a.source()

	ctx := context.Background()
	fields, err := src.FetchFields(ctx)
	if err != nil {
		log.Fatalf("Error fetching fields: %v", err)
	}
	events, err := src.FetchEvents(ctx)
	if err != nil {
		log.Printf("Warning: failed to fetch events: %v", err)
	}

	store := field.NewStore()
	store.SetFields(fields)
	store.SetEvents(events)

	// Styles come from config when present
	var styles []field.FieldStyle
	if _, err := os.Stat(a.ConfigFile); err == nil {
		if config, err := field.LoadConfig(a.ConfigFile); err != nil {
			log.Printf("Warning: Failed to load config file %s: %v", a.ConfigFile, err)
		} else {
			styles = config.Render.Styles
			log.Printf("Loaded config from %s", a.ConfigFile)
		}
	}

	renderer := field.NewMapRenderer(store.Fields(), store.LatestEventsByField(), styles)

	format := a.RenderFormat
	if format != "svg" && format != "png" && format != "both" {
		log.Fatalf("Invalid format: %s (must be svg, png, or both)", format)
	}

	if format == "svg" || format == "both" {
		outputPath := withExt(a.OutputFile, ".svg")
		if err := writeRender(outputPath, renderer.RenderToSVG); err != nil {
			log.Fatalf("Error rendering SVG: %v", err)
		}
		fmt.Printf("Created SVG: %s\n", outputPath)
	}

	if format == "png" || format == "both" {
		outputPath := withExt(a.OutputFile, ".png")
		if err := writeRender(outputPath, renderer.RenderToPNG); err != nil {
			log.Fatalf("Error rendering PNG: %v", err)
		}
		fmt.Printf("Created PNG: %s\n", outputPath)
	}

	fmt.Println("Done!")
}

// withExt swaps a path's extension.
func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// writeRender creates the output file and runs the given render function on it.
func writeRender(path string, render func(w io.Writer) error) error {
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file %s: %w", path, err)
	}
	defer func() {
		if err := outFile.Close(); err != nil {
			log.Printf("Warning: error closing output file %s: %v", path, err)
		}
	}()
	return render(outFile)
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() {
	fmt.Println("Starting fieldmesh service...")

	// 1. Resolve configuration paths relative to data-dir if provided
	resolvedConfig := a.ConfigFile
	if a.DataDir != "." && resolvedConfig == "config.yaml" {
		resolvedConfig = filepath.Join(a.DataDir, "config.yaml")
	}

	// 2. Load config.yaml (required)
	config, err := field.LoadConfig(resolvedConfig)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, resolvedConfig)
	}
	a.Config = config
	log.Printf("Loaded config from %s", resolvedConfig)

	// 3. Create the store, with snapshot persistence when configured
	snapshotPath := a.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = config.SnapshotPath
	}
	if snapshotPath != "" {
		a.Store = field.NewStoreWithSnapshot(snapshotPath)
		log.Printf("Field snapshot cache: %s", snapshotPath)
	}

	// 4. Launch the two startup fetches. Completions are unordered; each
	// settles its own collection exactly once.
	field.StartFetch(context.Background(), a.Store, a.source())

	// 5. Start MQTT ingest if enabled
	if a.MqttMode {
		readingHandler := func(device field.DeviceConfig, reading field.Reading, err error) {
			if err != nil {
				log.Printf("Error receiving reading for %s: %v", device.Name, err)
				return
			}

			a.Store.UpdateReading(device.Field, device.Name, reading)
			log.Printf("%s: %s reading state=%s", device.Field, device.Name, reading.State)

			// Republish the field's aggregated latest readings
			if a.Publisher != nil {
				if ev, ok := a.Store.LatestEventsForField(device.Field); ok {
					if err := a.Publisher.PublishFieldSummary(ev); err != nil {
						log.Printf("Error publishing summary for %s: %v", device.Field, err)
					}
				}
			}
		}

		mqttClient, err := field.InitMQTT(config, readingHandler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}

		a.Publisher = field.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Println("MQTT field summary publisher initialized")
	}

	// 6. Start HTTP server if enabled
	if a.HttpMode {
		httpServer := newHTTPServer(a.Store, a.Config)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	// 7. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, dc := range config.Devices {
			fmt.Printf("    - %s (%s -> %s)\n", dc.Topic, dc.Name, dc.Field)
		}
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "fieldmesh"
		}
		fmt.Printf("  Publishing to: %s/{fieldName}\n", publishPrefix)
		fmt.Printf("  Combined summaries: %s/fields\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health                 - Health check")
		fmt.Println("  GET /api/fields             - All fields")
		fmt.Println("  GET /api/fields/{id}        - Field with boundary and center")
		fmt.Println("  GET /api/fields/{id}/events - Latest readings per device")
		fmt.Println("  GET /api/selection          - Selected field (POST/DELETE to change)")
		fmt.Println("  GET /field-map.svg          - Field map (SVG)")
		fmt.Println("  GET /field-map.png          - Field map (PNG)")
		fmt.Println("  GET /metrics                - Prometheus metrics")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 8. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}
