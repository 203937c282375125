package monitor

import (
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/mrsync/internal/mixedreality"
	"github.com/banshee-data/mrsync/internal/mixedreality/registry"
	"github.com/banshee-data/mrsync/internal/mixedreality/storage/sqlite"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlaneMarker is a plane footprint on the map, in local world units.
// Footprints are drawn axis aligned.
type PlaneMarker struct {
	Label    string
	X, Z     float64
	HalfX    float64
	HalfZ    float64
	Merged   bool
	Tracking bool
}

// AnchorMarker is an anchor position on the map.
type AnchorMarker struct {
	Label string
	X, Z  float64
}

// MarkersFromRegistry converts live mirrors. Plane extents are in tracker
// units, so scale is applied to them.
func MarkersFromRegistry(reg *registry.Registry, scale float64) ([]PlaneMarker, []AnchorMarker) {
	var planes []PlaneMarker
	for _, p := range reg.Planes() {
		x, _, z := p.Pose.Translation()
		planes = append(planes, PlaneMarker{
			Label:    string(p.Handle),
			X:        x,
			Z:        z,
			HalfX:    p.ExtentX * scale / 2,
			HalfZ:    p.ExtentZ * scale / 2,
			Merged:   p.Merged(),
			Tracking: p.State == mixedreality.StateTracking,
		})
	}
	var anchors []AnchorMarker
	reg.EachAnchor(func(a *mixedreality.Anchor) {
		x, _, z := a.Pose.Translation()
		anchors = append(anchors, AnchorMarker{Label: a.Name(), X: x, Z: z})
	})
	return planes, anchors
}

// MarkersFromRecording converts recorded rows.
func MarkersFromRecording(planes []sqlite.PlaneRow, anchors []sqlite.AnchorRow, scale float64) ([]PlaneMarker, []AnchorMarker) {
	pm := make([]PlaneMarker, 0, len(planes))
	for _, p := range planes {
		pm = append(pm, PlaneMarker{
			Label:    p.Handle,
			X:        p.X,
			Z:        p.Z,
			HalfX:    p.ExtentX * scale / 2,
			HalfZ:    p.ExtentZ * scale / 2,
			Merged:   p.ParentID != "",
			Tracking: p.State == string(mixedreality.StateTracking),
		})
	}
	am := make([]AnchorMarker, 0, len(anchors))
	for _, a := range anchors {
		am = append(am, AnchorMarker{Label: fmt.Sprintf("anc_%d", a.AnchorID), X: a.X, Z: a.Z})
	}
	return pm, am
}

var (
	trackingColor = color.RGBA{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff}
	lostColor     = color.RGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff}
	anchorColor   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// RenderPlaneMap draws a top-down (x, z) PNG of plane footprints and
// anchors. Merged planes are dashed; planes not tracking are grey.
func RenderPlaneMap(w io.Writer, title string, planes []PlaneMarker, anchors []AnchorMarker) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Z"
	p.Add(plotter.NewGrid())

	var centers plotter.XYs
	var labels []string
	for _, m := range planes {
		outline, err := plotter.NewPolygon(plotter.XYs{
			{X: m.X - m.HalfX, Y: m.Z - m.HalfZ},
			{X: m.X + m.HalfX, Y: m.Z - m.HalfZ},
			{X: m.X + m.HalfX, Y: m.Z + m.HalfZ},
			{X: m.X - m.HalfX, Y: m.Z + m.HalfZ},
		})
		if err != nil {
			return fmt.Errorf("plane %s: %w", m.Label, err)
		}
		outline.LineStyle.Width = vg.Points(1.5)
		outline.LineStyle.Color = trackingColor
		if !m.Tracking {
			outline.LineStyle.Color = lostColor
		}
		if m.Merged {
			outline.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		outline.Color = nil
		p.Add(outline)

		centers = append(centers, plotter.XY{X: m.X, Y: m.Z})
		labels = append(labels, m.Label)
	}

	if len(anchors) > 0 {
		pts := make(plotter.XYs, len(anchors))
		for i, a := range anchors {
			pts[i] = plotter.XY{X: a.X, Y: a.Z}
			centers = append(centers, pts[i])
			labels = append(labels, a.Label)
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("anchors: %w", err)
		}
		scatter.GlyphStyle.Color = anchorColor
		scatter.GlyphStyle.Shape = draw.CrossGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(4)
		p.Add(scatter)
		p.Legend.Add("anchor", scatter)
	}

	if len(centers) > 0 {
		l, err := plotter.NewLabels(plotter.XYLabels{XYs: centers, Labels: labels})
		if err != nil {
			return fmt.Errorf("labels: %w", err)
		}
		p.Add(l)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to create plane map writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plane map: %w", err)
	}
	return nil
}
