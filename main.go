package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries all CLI options.
type AppOptions struct {
	ConfigFile   string
	DataDir      string
	SnapshotPath string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	MockData     bool

	ParseOnly  bool
	RenderOnly bool
}

// Runner is the application surface driven by the CLI dispatcher.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunParseOnly()
	RunRender()
	RunService()
}

// run parses CLI arguments and dispatches to the appropriate mode.
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("fieldmesh", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintln(out, "Usage of fieldmesh:")
		fs.PrintDefaults()
	}

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory containing FieldExport-*.json files")
	fs.StringVar(&opts.SnapshotPath, "snapshot", "", "Field snapshot cache file (overrides config)")
	fs.StringVar(&opts.OutputFile, "output", "field-map.svg", "Output file for --render mode")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg, png, or both")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Enable MQTT ingest of live device readings")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for the dashboard API")
	fs.BoolVar(&opts.MockData, "mock", false, "Use the built-in demo dataset instead of field exports")
	fs.BoolVar(&opts.ParseOnly, "parse-only", false, "Parse field exports and exit (test mode)")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the field map and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	app.ApplyOptions(opts)
	fmt.Fprintf(out, "fieldmesh version: %s\n", Version)

	switch {
	case opts.ParseOnly:
		app.RunParseOnly()
	case opts.RenderOnly:
		app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		app.RunService()
	default:
		fmt.Fprintln(out, "fieldmesh service starting...")
		fmt.Fprintln(out, "Use --parse-only to test field export parsing")
		fmt.Fprintln(out, "Use --render to output the field map (SVG/PNG)")
		fmt.Fprintln(out, "Use --http to run the dashboard API server")
		fmt.Fprintln(out, "Use --mqtt to ingest live device readings")
		fmt.Fprintln(out, "Use --mqtt --http to run both together")
		fmt.Fprintln(out, "\nConfiguration:")
		fmt.Fprintln(out, "  config.yaml - MQTT settings and device-to-field bindings")
	}

	return nil
}

func main() {
	app := NewApp()
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
}
