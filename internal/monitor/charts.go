package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/depthbridge/internal/httputil"
)

// handlePointCountChart renders the throttled point count and average depth
// history as two line charts.
func (ws *WebServer) handlePointCountChart(w http.ResponseWriter, r *http.Request) {
	if ws.history == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no diagnostics history available")
		return
	}
	hist := ws.history.History()
	if len(hist) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no point clouds observed yet")
		return
	}

	x := make([]string, len(hist))
	counts := make([]opts.LineData, len(hist))
	depths := make([]opts.LineData, len(hist))
	for i, s := range hist {
		x[i] = strconv.FormatFloat(s.Timestamp, 'f', 3, 64)
		counts[i] = opts.LineData{Value: s.Points}
		depths[i] = opts.LineData{Value: s.AverageDepth}
	}

	points := charts.NewLine()
	points.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Point count", Subtitle: fmt.Sprintf("%d samples", len(hist))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
	)
	points.SetXAxis(x).AddSeries("points", counts)

	depth := charts.NewLine()
	depth.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Average depth"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
	)
	depth.SetXAxis(x).AddSeries("average depth", depths)

	page := components.NewPage()
	page.AddCharts(points, depth)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTopDown plots the latest cloud in world X/Z, seen from above.
// Query params:
//   - max_points (optional; default 5000)
func (ws *WebServer) handleTopDown(w http.ResponseWriter, r *http.Request) {
	if ws.cloud == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no renderer available")
		return
	}
	maxPoints, err := httputil.QueryInt(r, "max_points", 5000, 1, 60000)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := ws.cloud.Snapshot()
	world := snap.WorldPoints(maxPoints)
	xys := make(plotter.XYs, len(world))
	for i, p := range world {
		xys[i] = plotter.XY{X: p.X, Y: -p.Z}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Top-down t=%.3f points=%d", snap.Timestamp, snap.Count)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "-Z (m)"
	p.Add(plotter.NewGrid())

	if len(xys) > 0 {
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("scatter: %v", err))
			return
		}
		scatter.GlyphStyle.Radius = vg.Points(1)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
	}
	device, err := plotter.NewScatter(plotter.XYs{{X: snap.Position.X, Y: -snap.Position.Z}})
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("scatter: %v", err))
		return
	}
	device.GlyphStyle.Radius = vg.Points(4)
	device.GlyphStyle.Shape = draw.TriangleGlyph{}
	p.Add(device)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
