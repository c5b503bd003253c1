// Package statusapi exposes a pipeline's live state over HTTP for
// cmd/dflowtop to poll and for Prometheus to scrape — the network-visible
// counterpart to sdl_fetch's direct-to-Mongo polling, since dflow's
// pipeline state lives in-process rather than in the sink.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/registry"
)

// StatsSource is implemented by *pipeline.Pipeline.
type StatsSource interface {
	Stats() (rowsSunk int64, rowsPerSec float64)
}

type TableStatus struct {
	Schema string   `json:"schema"`
	Table  string   `json:"table"`
	IDCols []string `json:"id_cols"`
	NumCol int      `json:"num_columns"`
}

type Status struct {
	Position   string        `json:"position"`
	RowsSunk   int64         `json:"rows_sunk"`
	RowsPerSec float64       `json:"rows_per_sec"`
	Tables     []TableStatus `json:"tables"`
}

// Server serves /status (JSON snapshot) and /metrics (Prometheus) for one
// running pipeline.
type Server struct {
	Syncer *meta.Syncer
	Reg    *registry.Registry
	Stats  StatsSource
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rowsSunk, tps := s.Stats.Stats()

	var tables []TableStatus
	for _, tm := range s.Reg.Snapshot() {
		tables = append(tables, TableStatus{
			Schema: tm.Schema, Table: tm.Table, IDCols: tm.IDCols, NumCol: len(tm.Columns),
		})
	}

	status := Status{
		Position:   s.Syncer.Get().ToText(),
		RowsSunk:   rowsSunk,
		RowsPerSec: tps,
		Tables:     tables,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
