package main

import (
	"bytes"
	"net/http"
	"time"

	"github.com/banshee-data/densecloud/internal/httputil"
	"github.com/banshee-data/densecloud/internal/manager"
	"github.com/banshee-data/densecloud/internal/stream"
	"github.com/banshee-data/densecloud/internal/version"
	"github.com/banshee-data/densecloud/internal/visualiser"
)

type cloudSummary struct {
	ID       string `json:"id"`
	Count    int    `json:"count"`
	Capacity int    `json:"capacity"`
	Primary  bool   `json:"primary"`
}

type statsResponse struct {
	Version       string                `json:"version"`
	GitSHA        string                `json:"git_sha"`
	Status        string                `json:"status"`
	MinConfidence float32               `json:"min_confidence"`
	Manager       managerStats          `json:"manager"`
	Publisher     stream.PublisherStats `json:"publisher"`
	Clouds        []cloudSummary        `json:"clouds"`
	Particles     int                   `json:"particles"`
	MeshUpdates   int                   `json:"mesh_updates"`
}

type managerStats struct {
	Ticks           uint64  `json:"ticks"`
	NotTracking     uint64  `json:"not_tracking"`
	MotionSkipped   uint64  `json:"motion_skipped"`
	AcquireFailures uint64  `json:"acquire_failures"`
	ReleaseFailures uint64  `json:"release_failures"`
	Processed       uint64  `json:"processed"`
	PointsAdmitted  uint64  `json:"points_admitted"`
	PointsSaturated uint64  `json:"points_saturated"`
	GridRebuilds    int     `json:"grid_rebuilds"`
	LastFrameAt     string  `json:"last_frame_at,omitempty"`
	LastFrameMillis float64 `json:"last_frame_ms"`
}

func toManagerStats(st manager.Stats) managerStats {
	out := managerStats{
		Ticks:           st.Ticks,
		NotTracking:     st.NotTracking,
		MotionSkipped:   st.MotionSkipped,
		AcquireFailures: st.AcquireFailures,
		ReleaseFailures: st.ReleaseFailures,
		Processed:       st.Processed,
		PointsAdmitted:  st.PointsAdmitted,
		PointsSaturated: st.PointsSaturated,
		GridRebuilds:    st.GridRebuilds,
		LastFrameMillis: float64(st.LastFrameTook) / float64(time.Millisecond),
	}
	if !st.LastFrameAt.IsZero() {
		out.LastFrameAt = st.LastFrameAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// mux serves the debug endpoints:
//
//	GET  /api/stats         manager, publisher and cloud counters
//	POST /api/reset         empty the primary cloud
//	GET  /debug/scatter     go-echarts scatter of a cloud
//	GET  /debug/plot.png    gonum/plot top-down render of the primary cloud
//	GET  /ws                websocket delta stream (?cloud=<uuid> filters)
func (a *app) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/reset", a.handleReset)
	mux.Handle("/debug/scatter", visualiser.ScatterHandler(a.registry))
	mux.HandleFunc("/debug/plot.png", a.handlePlot)
	mux.Handle("/ws", stream.NewWSHandler(a.publisher))
	return mux
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statsResponse{
		Version:       version.Version,
		GitSHA:        version.GitSHA,
		Status:        statusString(a.manager),
		MinConfidence: a.manager.MinConfidence(),
		Manager:       toManagerStats(a.manager.Stats()),
		Publisher:     a.publisher.Stats(),
		Clouds:        []cloudSummary{},
		Particles:     a.particles.Alive(),
		MeshUpdates:   a.mesh.Updates(),
	}
	primary := a.manager.PointCloud()
	for _, b := range a.registry.All() {
		resp.Clouds = append(resp.Clouds, cloudSummary{
			ID:       b.ID().String(),
			Count:    b.Count(),
			Capacity: b.Capacity(),
			Primary:  primary != nil && b.ID() == primary.ID(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if a.manager.PointCloud() == nil {
		httputil.NotFound(w, "no primary cloud")
		return
	}
	a.manager.ResetPointCloud()
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handlePlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if _, err := a.plot.WriteTo(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
