package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"execplane/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Poll(t *testing.T) {
	var gotQuery, gotAuth string
	queued := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/clients/store 42/commands", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		if !queued {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		queued = false
		json.NewEncoder(w).Encode(api.Command{Kind: api.CommandAbort, Abort: &api.AbortCommand{ExecutionID: "e-1"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "store 42", "1.4.0", "agent-secret")

	cmd, err := c.Poll(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, "e-1", cmd.Abort.ExecutionID)
	assert.Equal(t, "Bearer agent-secret", gotAuth)
	assert.Equal(t, "version=1.4.0&wait=2s", gotQuery)

	cmd, err = c.Poll(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestClient_OutputSealed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "output buffer is sealed", Code: api.CodeSealed})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "c-42", "dev", "s")
	err := c.Output(context.Background(), "e-1", api.OutputRequest{Stream: "stdout", Payload: "x"})
	assert.True(t, errors.Is(err, ErrSealed), "got %v", err)
}

func TestClient_Callbacks(t *testing.T) {
	type seen struct {
		method string
		path   string
		body   map[string]any
	}
	var requests []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, seen{r.Method, r.URL.Path, body})
		if r.URL.Path == "/internal/clients/c-42/executions" {
			json.NewEncoder(w).Encode(api.ExecutionResponse{ID: "e-9", Status: "PENDING", TriggerType: "CLIENT_PULL"})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "c-42", "dev", "s")
	ctx := context.Background()
	msg := "boom"

	require.NoError(t, c.Ack(ctx, "e-1", false, api.RejectHashMismatch))
	require.NoError(t, c.Start(ctx, "e-1"))
	require.NoError(t, c.Result(ctx, "e-1", api.ResultRequest{ExitCode: 1, Error: &msg, DurationMs: 40}))
	require.NoError(t, c.UpdateAck(ctx, "j-1", true, ""))
	e, err := c.TriggerSelf(ctx, "inventory")
	require.NoError(t, err)
	assert.Equal(t, "e-9", e.ID)

	require.Len(t, requests, 5)
	assert.Equal(t, "/internal/executions/e-1/ack", requests[0].path)
	assert.Equal(t, "hash_mismatch", requests[0].body["reason"])
	assert.Equal(t, http.MethodPut, requests[1].method)
	assert.Equal(t, "/internal/executions/e-1/result", requests[2].path)
	assert.Equal(t, "boom", requests[2].body["error"])
	assert.Equal(t, "/internal/client-updates/j-1/ack", requests[3].path)
	assert.Equal(t, "inventory", requests[4].body["scriptId"])
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid authorization token"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "c-42", "dev", "wrong")
	err := c.Start(context.Background(), "e-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid authorization token")
}
