// Package render draws rendered frames to raster images for PNG output
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.jpl.nasa.gov/bdube/wavescope/waveform"
)

const (
	// DefaultWidth of an image, pixels
	DefaultWidth = 800

	// DefaultHeight of an image, pixels
	DefaultHeight = 480

	// divisions of the graticule in each direction
	divisions = 10

	// lineHeight is the spacing of label rows for basicfont.Face7x13
	lineHeight = 14
)

var (
	background = color.RGBA{R: 16, G: 16, B: 16, A: 255}
	graticule  = color.RGBA{R: 56, G: 56, B: 56, A: 255}
	label      = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	history    = color.RGBA{R: 70, G: 110, B: 70, A: 255}

	// TraceColors are the colors of the primary and secondary traces
	TraceColors = []color.RGBA{
		{R: 250, G: 220, B: 40, A: 255},
		{R: 40, G: 200, B: 250, A: 255}}
)

func traceColor(i int) color.RGBA {
	return TraceColors[i%len(TraceColors)]
}

// canvas is an image with a plotting area
type canvas struct {
	img  *image.RGBA
	w, h int
}

func newCanvas(w, h int) canvas {
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	c := canvas{img: img, w: w, h: h}
	c.grid()
	return c
}

func (c canvas) grid() {
	for i := 1; i < divisions; i++ {
		x := i * (c.w - 1) / divisions
		y := i * (c.h - 1) / divisions
		c.line(x, 0, x, c.h-1, graticule)
		c.line(0, y, c.w-1, y, graticule)
	}
}

func finite(p waveform.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// px maps a normalized point to pixels
func (c canvas) px(p waveform.Point) (int, int) {
	x := int(math.Round(p.X * float64(c.w-1)))
	y := int(math.Round(p.Y * float64(c.h-1)))
	return x, y
}

// strip draws a polyline through pts
func (c canvas) strip(pts []waveform.Point, col color.RGBA) {
	for i := 1; i < len(pts); i++ {
		if !finite(pts[i-1]) || !finite(pts[i]) {
			continue
		}
		x0, y0 := c.px(pts[i-1])
		x1, y1 := c.px(pts[i])
		c.line(x0, y0, x1, y1, col)
	}
	if len(pts) == 1 && finite(pts[0]) {
		x, y := c.px(pts[0])
		c.set(x, y, col)
	}
}

func (c canvas) dots(pts []waveform.Point, col color.RGBA) {
	for _, p := range pts {
		if !finite(p) {
			continue
		}
		x, y := c.px(p)
		c.set(x, y, col)
	}
}

func (c canvas) set(x, y int, col color.RGBA) {
	if image.Pt(x, y).In(c.img.Rect) {
		c.img.SetRGBA(x, y, col)
	}
}

// line is Bresenham's algorithm, clipped per pixel
func (c canvas) line(x0, y0, x1, y1 int, col color.RGBA) {
	dx := iabs(x1 - x0)
	dy := -iabs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		c.set(x0, y0, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// text draws s with its baseline at y
func (c canvas) text(x, y int, s string, col color.RGBA) {
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y)}
	d.DrawString(s)
}

// textRight draws s ending at x
func (c canvas) textRight(x, y int, s string, col color.RGBA) {
	w := font.MeasureString(basicfont.Face7x13, s).Round()
	c.text(x-w, y, s, col)
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FormatFrequency renders f in Hz or kHz, or "--" when unknown
func FormatFrequency(f float64) string {
	switch {
	case f <= 0 || math.IsNaN(f) || math.IsInf(f, 0):
		return "--"
	case f >= 1000:
		return fmt.Sprintf("%.3f kHz", f/1000)
	default:
		return fmt.Sprintf("%.1f Hz", f)
	}
}

// YT draws a Y-t render with a graticule, one line strip per trace, and labels
// for the scale, peak to peak voltages and frequency
func YT(r waveform.Rendered, width, height int) *image.RGBA {
	c := newCanvas(width, height)
	for i, t := range r.Traces {
		c.strip(t.Points, traceColor(i))
	}
	c.text(4, lineHeight, fmt.Sprintf("%+.3f V", r.Scale.Max), label)
	c.text(4, c.h-4, fmt.Sprintf("%+.3f V", r.Scale.Min), label)
	y := lineHeight
	for i, t := range r.Traces {
		c.textRight(c.w-4, y, fmt.Sprintf("CH%d Vpp %.3f V", t.Channel, t.Vpp), traceColor(i))
		y += lineHeight
	}
	status := fmt.Sprintf("%s %s  f %s", r.Mode, r.Source, FormatFrequency(r.Frequency))
	if r.Cycles > 0 {
		status += fmt.Sprintf("  %d cycles", r.Cycles)
	}
	c.textRight(c.w-4, c.h-4, status, label)
	return c.img
}

// XY draws an X-Y render.  Persisted history is drawn as dots beneath the
// current figure.
func XY(r waveform.XYRendered, width, height int) *image.RGBA {
	c := newCanvas(width, height)
	c.dots(r.History, history)
	c.strip(r.Points, traceColor(0))
	c.text(4, lineHeight, fmt.Sprintf("Y %+.3f..%+.3f V", r.Y.Min, r.Y.Max), label)
	c.text(4, c.h-4, fmt.Sprintf("X %+.3f..%+.3f V", r.X.Min, r.X.Max), label)
	c.textRight(c.w-4, lineHeight, "f "+FormatFrequency(r.Frequency), label)
	return c.img
}

// PNG encodes img to w
func PNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
