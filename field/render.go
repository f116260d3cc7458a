package field

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const metersPerDegreeLat = 111320.0

// errNoGeometry is returned when no field in the collection has a usable polygon.
var errNoGeometry = errors.New("no field geometry to render")

// FieldColor defines the colors for one field's rendered polygon and markers.
type FieldColor struct {
	Fill   color.NRGBA
	Stroke color.NRGBA
	Marker color.NRGBA
}

// DefaultFieldColors returns distinct colors, cycled across fields.
func DefaultFieldColors() []FieldColor {
	return []FieldColor{
		{ // Olive
			Fill:   color.NRGBA{107, 142, 35, 150},
			Stroke: color.NRGBA{85, 107, 47, 255},
			Marker: color.NRGBA{46, 87, 27, 255},
		},
		{ // Wheat
			Fill:   color.NRGBA{222, 184, 135, 150},
			Stroke: color.NRGBA{139, 90, 43, 255},
			Marker: color.NRGBA{160, 82, 45, 255},
		},
		{ // Teal
			Fill:   color.NRGBA{95, 158, 160, 150},
			Stroke: color.NRGBA{0, 105, 108, 255},
			Marker: color.NRGBA{0, 77, 80, 255},
		},
		{ // Plum
			Fill:   color.NRGBA{186, 135, 222, 150},
			Stroke: color.NRGBA{104, 61, 140, 255},
			Marker: color.NRGBA{90, 40, 125, 255},
		},
	}
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// This is needed for the canvas library which expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// MapRenderer renders field polygons and device markers as vector graphics.
// Coordinates are projected from degrees to local meters around the
// collection's bounding-box center, so canvas units are meters.
type MapRenderer struct {
	Fields     []Field
	Events     map[string]DeviceEvent
	Colors     map[string]FieldColor
	Padding    float64           // margin around field bounds, meters
	Resolution canvas.Resolution // resolution for PNG output (default: 2 px/m)
	Tolerance  float64           // polygon simplification tolerance, degrees
	Labels     bool              // draw field name labels on raster output
}

// NewMapRenderer creates a renderer with default settings. Colors are
// assigned in field order; styles override per field name.
func NewMapRenderer(fields []Field, events map[string]DeviceEvent, styles []FieldStyle) *MapRenderer {
	colors := DefaultFieldColors()
	colorMap := make(map[string]FieldColor, len(fields))
	for i, f := range fields {
		colorMap[f.Name] = colors[i%len(colors)]
	}
	for _, st := range styles {
		if fill, ok := parseHexColor(st.Color); ok {
			base := colorMap[st.Field]
			base.Fill = color.NRGBA{fill.R, fill.G, fill.B, 150}
			base.Stroke = fill
			base.Marker = fill
			colorMap[st.Field] = base
		}
	}

	return &MapRenderer{
		Fields:     fields,
		Events:     events,
		Colors:     colorMap,
		Padding:    50.0,             // 50m margin
		Resolution: canvas.DPMM(2.0), // 2 px per canvas mm (= meter here)
		Tolerance:  0,
		Labels:     true,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the field map as an SVG to the provided writer.
func (r *MapRenderer) RenderToSVG(w io.Writer) error {
	start := time.Now()
	proj, width, height, ok := r.projection()
	if !ok {
		return errNoGeometry
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, proj, width, height)
	if err := svgRenderer.Close(); err != nil {
		return err
	}

	renderDuration.WithLabelValues("svg").Observe(time.Since(start).Seconds())
	return nil
}

// RenderToPNG writes the field map as a PNG to the provided writer. Field
// name labels are drawn onto the rasterized image.
func (r *MapRenderer) RenderToPNG(w io.Writer) error {
	start := time.Now()
	proj, width, height, ok := r.projection()
	if !ok {
		return errNoGeometry
	}

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, proj, width, height)

	if r.Labels {
		r.drawLabels(rast, proj, height)
	}

	renderDuration.WithLabelValues("png").Observe(time.Since(start).Seconds())
	// Rasterizer implements draw.Image, which embeds image.Image
	return png.Encode(w, rast)
}

// projectionFunc maps a lng/lat point to canvas coordinates in meters.
type projectionFunc func(p orb.Point) (float64, float64)

// projection computes the local-meter projection and canvas dimensions for
// the current field collection. Returns ok=false when no field has usable
// geometry.
func (r *MapRenderer) projection() (projectionFunc, float64, float64, bool) {
	bound, ok := r.collectionBound()
	if !ok {
		return nil, 0, 0, false
	}

	midLat := bound.Center().Lat()
	mPerDegLng := metersPerDegreeLat * math.Cos(midLat*math.Pi/180)

	width := (bound.Max.Lon()-bound.Min.Lon())*mPerDegLng + 2*r.Padding
	height := (bound.Max.Lat()-bound.Min.Lat())*metersPerDegreeLat + 2*r.Padding

	minLon, minLat := bound.Min.Lon(), bound.Min.Lat()
	proj := func(p orb.Point) (float64, float64) {
		x := (p.Lon()-minLon)*mPerDegLng + r.Padding
		y := (p.Lat()-minLat)*metersPerDegreeLat + r.Padding
		return x, y
	}
	return proj, width, height, true
}

func (r *MapRenderer) collectionBound() (orb.Bound, bool) {
	var bound orb.Bound
	found := false
	for _, f := range r.Fields {
		b, ok := Bound(f.Polygon)
		if !ok {
			continue
		}
		if !found {
			bound = b
			found = true
		} else {
			bound = bound.Union(b)
		}
	}
	return bound, found
}

// renderToCanvas renders the fields to a canvas renderer (shared logic for SVG and PNG).
func (r *MapRenderer) renderToCanvas(renderer canvasRenderer, proj projectionFunc, width, height float64) {
	// Draw white background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Field polygons: filled with a stroked outline
	for _, f := range r.Fields {
		poly := SimplifyForRender(f.Polygon, r.Tolerance)
		if len(poly) == 0 {
			continue
		}
		fc := r.Colors[f.Name]

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(fc.Fill)}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(fc.Stroke)}
		style.StrokeWidth = 3.0 // 3m outline

		for _, ring := range poly {
			cp := &canvas.Path{}
			for i, pt := range ring {
				cx, cy := proj(pt)
				if i == 0 {
					cp.MoveTo(cx, cy)
				} else {
					cp.LineTo(cx, cy)
				}
			}
			cp.Close()
			renderer.RenderPath(cp, style, canvas.Identity)
		}
	}

	// Device markers: one circle per device, fanned out around the field center
	for _, f := range r.Fields {
		ev, ok := r.Events[f.Name]
		if !ok || len(ev.Devices) == 0 {
			continue
		}
		center, ok := Center(f.Polygon)
		if !ok {
			continue
		}
		fc := r.Colors[f.Name]

		markerStyle := canvas.DefaultStyle
		markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(fc.Marker)}
		markerStyle.Stroke = canvas.Paint{Color: canvas.Black}
		markerStyle.StrokeWidth = 1.0

		stoppedStyle := markerStyle
		stoppedStyle.Fill = canvas.Paint{Color: canvas.Gray}

		cx, cy := proj(orb.Point{center.Lng, center.Lat})
		for i, name := range sortedDeviceNames(ev.Devices) {
			reading := ev.Devices[name]
			// Fan markers out so co-located devices stay distinguishable
			angle := float64(i) * 2 * math.Pi / float64(len(ev.Devices))
			mx := cx + 12*math.Cos(angle)
			my := cy + 12*math.Sin(angle)

			style := markerStyle
			if reading.State == "stopped" || reading.State == "offline" {
				style = stoppedStyle
			}

			marker := canvas.Circle(6.0)
			marker = marker.Translate(mx, my)
			renderer.RenderPath(marker, style, canvas.Identity)
		}
	}
}

// drawLabels draws field names onto the rasterized image at each field's
// display center.
func (r *MapRenderer) drawLabels(img draw.Image, proj projectionFunc, height float64) {
	dpmm := r.Resolution.DPMM()
	for _, f := range r.Fields {
		center, ok := Center(f.Polygon)
		if !ok {
			continue
		}
		cx, cy := proj(orb.Point{center.Lng, center.Lat})
		// Canvas y grows upward, image y grows downward
		px := int(cx * dpmm)
		py := int((height - cy) * dpmm)
		// Offset the label above the marker fan
		drawText(img, px-len(f.Name)*7/2, py-30, f.Name, color.RGBA{0, 0, 0, 255})
	}
}

// drawText renders text onto an image at the specified position.
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func sortedDeviceNames(devices map[string]Reading) []string {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseHexColor(s string) (color.NRGBA, bool) {
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, false
	}
	hex := func(b byte) (uint8, bool) {
		switch {
		case b >= '0' && b <= '9':
			return b - '0', true
		case b >= 'a' && b <= 'f':
			return b - 'a' + 10, true
		case b >= 'A' && b <= 'F':
			return b - 'A' + 10, true
		}
		return 0, false
	}
	var out [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hex(s[1+2*i])
		lo, ok2 := hex(s[2+2*i])
		if !ok1 || !ok2 {
			return color.NRGBA{}, false
		}
		out[i] = hi<<4 | lo
	}
	return color.NRGBA{out[0], out[1], out[2], 255}, true
}
