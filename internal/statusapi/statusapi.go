// Package statusapi serves the status IPC surface of the external
// boundary: "file all|<path>" queries returning structured per-file
// status, mounted the way the ingestion APIs mount their router onto
// an HTTP mux.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/gorilla/mux"
)

// Source supplies the live file status rows the handler serves. The
// engine's reader registry implements this.
type Source interface {
	FileStatus(path string) []protocol.FileStatus
}

type api struct {
	source Source
}

// Register mounts the status IPC surface on router.
func Register(router *mux.Router, source Source) {
	var a = &api{source: source}
	// A requested file path is absolute, so the request path holds a
	// double slash ("/status/file//var/..."); path cleaning would
	// answer it with a redirect instead of routing it here.
	router.SkipClean(true)
	router.Path("/status/file/{path:.*}").Methods("GET").HandlerFunc(a.serveFile)
}

func (a *api) serveFile(w http.ResponseWriter, r *http.Request) {
	var vars = mux.Vars(r)
	var path = vars["path"]
	if path == "" {
		path = "all"
	}

	var req = protocol.StatusRequest{
		Path:   path,
		Detail: r.URL.Query().Get("detail") == "true",
	}

	var rows []protocol.FileStatus
	if req.Path == "all" || req.Path == "" {
		rows = a.source.FileStatus("")
	} else {
		rows = a.source.FileStatus(req.Path)
	}

	if !req.Detail {
		rows = stripDetail(rows)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

// stripDetail drops fields only meaningful in detailed responses,
// currently just file_last_pos/file_read_pos, leaving the summary
// shape the non-detail query expects.
func stripDetail(rows []protocol.FileStatus) []protocol.FileStatus {
	var out = make([]protocol.FileStatus, len(rows))
	for i, r := range rows {
		r.FileLastPos = 0
		r.FileReadPos = 0
		out[i] = r
	}
	return out
}
