package visualiser

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/densecloud/internal/cloud"
	"github.com/banshee-data/densecloud/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var confidencePalette = []string{"#d7191c", "#fdae61", "#ffffbf", "#a6d96a", "#1a9641"}

// ScatterHandler renders a top-down HTML scatter of one registered cloud
// using go-echarts. This is a debugging endpoint.
// Query params:
//   - cloud (optional; defaults to the only registered cloud)
//   - max_points (optional; default 8000, clamped to [100, 50000])
func ScatterHandler(reg *cloud.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}

		buf, status, msg := pickCloud(reg, r)
		if buf == nil {
			httputil.WriteJSONError(w, status, msg)
			return
		}

		maxPoints, err := httputil.IntParam(r, "max_points", 8000, 100, 50000)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		// The handler runs beside the writer, so read a copy.
		snap := buf.Snapshot(0, buf.Count())
		points, confs := snap.Points, snap.Confidences
		n := snap.Len()
		if n == 0 {
			httputil.NotFound(w, "cloud has no points")
			return
		}

		stride := 1
		if n > maxPoints {
			stride = int(math.Ceil(float64(n) / float64(maxPoints)))
		}

		data := make([]opts.ScatterData, 0, n/stride+1)
		maxAbs := 0.0
		for i := 0; i < n; i += stride {
			p := points[i]
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Z)))
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Z, confs[i]}})
		}

		pad := maxAbs * 1.05
		if pad == 0 {
			pad = 1
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Dense point cloud (top-down)", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: "Point cloud", Subtitle: fmt.Sprintf("cloud=%s points=%d stride=%d", buf.ID(), len(data), stride)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
			charts.WithVisualMapOpts(opts.VisualMap{
				Show:       opts.Bool(true),
				Calculable: opts.Bool(true),
				Min:        0,
				Max:        1,
				Dimension:  "2",
				InRange:    &opts.VisualMapInRange{Color: confidencePalette},
			}),
		)
		scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

		var out bytes.Buffer
		if err := scatter.Render(&out); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(out.Bytes())
	})
}

func pickCloud(reg *cloud.Registry, r *http.Request) (*cloud.PointBuffer, int, string) {
	id, ok, err := httputil.UUIDParam(r, "cloud")
	if err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}
	if ok {
		buf, found := reg.Get(id)
		if !found {
			return nil, http.StatusNotFound, "unknown cloud"
		}
		return buf, 0, ""
	}
	all := reg.All()
	switch len(all) {
	case 0:
		return nil, http.StatusNotFound, "no clouds registered"
	case 1:
		return all[0], 0, ""
	default:
		return nil, http.StatusBadRequest, "cloud parameter required"
	}
}
