package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/jobs/job_abc123", "job_abc123"},
		{"/api/jobs/job_abc123/log", "job_abc123"},
		{"/api/jobs/", ""},
		{"/api/jobs", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, jobIDFromPath(tt.path))
		})
	}
}

func TestChainIDFromPath(t *testing.T) {
	tests := []struct {
		path   string
		wantID int64
		wantOK bool
	}{
		{"/api/rpc/1", 1, true},
		{"/api/rpc/8453", 8453, true},
		{"/api/rpc/abc", 0, false},
		{"/api/rpc/-5", 0, false},
		{"/api/rpc/0", 0, false},
		{"/api/rpc/", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := chainIDFromPath(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/jobs?limit=25&offset=abc", nil)

	assert.Equal(t, 25, QueryInt(r, "limit", 50))
	assert.Equal(t, 0, QueryInt(r, "offset", 0), "malformed values fall back to the default")
	assert.Equal(t, 50, QueryInt(r, "missing", 50))
}

func TestOwnerFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/jobs", nil)
	assert.Empty(t, OwnerFromRequest(r))

	r.Header.Set("X-Forge-Owner", "alice")
	assert.Equal(t, "alice", OwnerFromRequest(r))
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, 400, "bad input")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"error","error":"bad input"}`, w.Body.String())
}
