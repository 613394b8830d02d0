package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows []protocol.FileStatus
}

func (f *fakeSource) FileStatus(path string) []protocol.FileStatus {
	if path == "" {
		return f.rows
	}
	var out []protocol.FileStatus
	for _, r := range f.rows {
		if r.FilePath == path {
			out = append(out, r)
		}
	}
	return out
}

func TestServeFileAllReturnsEveryRow(t *testing.T) {
	var source = &fakeSource{rows: []protocol.FileStatus{
		{ConfigName: "app", FilePath: "/var/log/app.log", SendOffset: 10, FileReadPos: 20, FileSize: 100},
		{ConfigName: "app", FilePath: "/var/log/app.log.1", SendOffset: 0, FileReadPos: 0, FileSize: 0},
	}}

	var router = mux.NewRouter()
	Register(router, source)

	var req = httptest.NewRequest(http.MethodGet, "/status/file/all", nil)
	var rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []protocol.FileStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, int64(0), got[0].FileReadPos, "non-detail response omits read position")
}

func TestServeFileDetailIncludesReadPosition(t *testing.T) {
	var source = &fakeSource{rows: []protocol.FileStatus{
		{ConfigName: "app", FilePath: "/var/log/app.log", SendOffset: 10, FileReadPos: 20, FileLastPos: 30, FileSize: 100},
	}}

	var router = mux.NewRouter()
	Register(router, source)

	var req = httptest.NewRequest(http.MethodGet, "/status/file/all?detail=true", nil)
	var rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got []protocol.FileStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].FileReadPos)
	require.Equal(t, int64(30), got[0].FileLastPos)
}

func TestServeFileSpecificPathFilters(t *testing.T) {
	var source = &fakeSource{rows: []protocol.FileStatus{
		{ConfigName: "app", FilePath: "/var/log/app.log"},
		{ConfigName: "app", FilePath: "/var/log/other.log"},
	}}

	var router = mux.NewRouter()
	Register(router, source)

	var req = httptest.NewRequest(http.MethodGet, "/status/file/%2Fvar%2Flog%2Fapp.log", nil)
	var rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var got []protocol.FileStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "/var/log/app.log", got[0].FilePath)
}
