package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/hip/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunsServer(t *testing.T) *httptest.Server {
	t.Helper()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := []client.Run{
		{ID: 2, Program: "Hip", Instruction: "initialize", Cluster: "localnet", Status: "failed", ErrorKind: "connection", Error: "connection refused", CreatedAt: created},
		{ID: 1, Program: "Hip", Instruction: "initialize", Cluster: "localnet", Status: "success", Signature: "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tp", Slot: 42, DurationMS: 812, CreatedAt: created},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"runs": runs, "count": len(runs)})
	})
	mux.HandleFunc("GET /api/v1/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runs[0])
	})
	mux.HandleFunc("GET /api/v1/runs/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(client.RunStats{Program: r.URL.Query().Get("program"), Total: 2, Success: 1, Failed: 1, SuccessRate: 0.5})
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
			return
		}
		json.NewEncoder(w).Encode(runs[1])
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunsCommands(t *testing.T) {
	srv := newRunsServer(t)

	t.Run("list as table", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "runs", "list")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], "SIGNATURE")
		assert.Contains(t, lines[1], "failed (connection)")
		assert.Contains(t, lines[2], "5j7s6NiJS3JAkvgk...")
	})

	t.Run("list through jq", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "runs", "list", "--jq", `.[] | select(.status == "success") | .slot`)
		require.NoError(t, err)
		assert.Equal(t, "42\n", out)
	})

	t.Run("get", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "--json", "runs", "get", "1")
		require.NoError(t, err)

		var run client.Run
		require.NoError(t, json.Unmarshal([]byte(out), &run))
		assert.Equal(t, int64(1), run.ID)
		assert.True(t, run.Succeeded())
	})

	t.Run("get missing run", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "runs", "get", "7")
		require.Error(t, err)
		assert.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("get rejects a bad id", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "runs", "get", "abc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid run id")
	})

	t.Run("latest prints the run", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "runs", "latest")
		require.NoError(t, err)
		assert.Contains(t, out, "Error:       [connection] connection refused")
	})

	t.Run("latest with require-success fails on a failed run", func(t *testing.T) {
		_, err := runApp(t, "--server-url", srv.URL, "runs", "latest", "--require-success")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection")
	})

	t.Run("stats", func(t *testing.T) {
		out, err := runApp(t, "--server-url", srv.URL, "runs", "stats", "--jq", ".success_rate")
		require.NoError(t, err)
		assert.Equal(t, "0.5\n", out)

		out, err = runApp(t, "--server-url", srv.URL, "runs", "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Program:      Hip")
		assert.Contains(t, out, "Success rate: 50.0%")
	})
}
