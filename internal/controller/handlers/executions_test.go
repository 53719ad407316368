package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"execplane/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trigger(t *testing.T, env *testEnv, scriptID, clientID string) api.ExecutionResponse {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/trigger-execution", api.TriggerExecutionRequest{ScriptID: scriptID, ClientID: clientID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[api.ExecutionResponse](t, rr)
}

func TestTriggerExecution_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing script", api.TriggerExecutionRequest{ClientID: "c-42"}},
		{"missing client", api.TriggerExecutionRequest{ScriptID: "deploy-check"}},
		{"malformed json", `{"scriptId":`},
		{"unknown field", `{"scriptId":"a","clientId":"b","priority":1}`},
		{"common name without directory", api.TriggerExecutionRequest{ScriptID: "deploy-check", CommonName: "store-0042"}},
	}

	env := newEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/trigger-execution", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, api.CodeValidation, decode[api.ErrorResponse](t, rr).Code)
		})
	}
}

func TestTriggerExecution_ConnectedClient(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, "c-42")

	first := trigger(t, env, "deploy-check", "c-42")
	assert.Equal(t, "PENDING", first.Status)
	assert.Equal(t, "UI_PUSH", first.TriggerType)

	second := trigger(t, env, "deploy-check", "c-42")
	assert.Equal(t, first.ID, second.ID, "duplicate trigger must return the in-flight execution")
}

func TestTriggerExecution_UnreachableClientFails(t *testing.T) {
	env := newEnv(t, nil)

	e := trigger(t, env, "deploy-check", "c-gone")
	assert.Equal(t, "FAILED", e.Status)
	require.NotNil(t, e.ErrorKind)
	assert.Equal(t, "ClientUnreachable", *e.ErrorKind)
	assert.NotNil(t, e.FinishedAt)

	// The pair is free again.
	again := trigger(t, env, "deploy-check", "c-gone")
	assert.NotEqual(t, e.ID, again.ID)
}

func TestGetExecution(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, "c-42")
	e := trigger(t, env, "deploy-check", "c-42")

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/execution/" + e.ID, http.StatusOK},
		{"not a uuid", "/execution/not-a-uuid", http.StatusBadRequest},
		{"unknown", "/execution/" + uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestListExecutions(t *testing.T) {
	env := newEnv(t, nil)
	for i := 0; i < 5; i++ {
		trigger(t, env, "deploy-check", fmt.Sprintf("c-%d", i))
	}
	env.connect(t, "c-live")
	trigger(t, env, "deploy-check", "c-live")

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantItems  int
		wantTotal  int
	}{
		{"defaults", "", http.StatusOK, 6, 6},
		{"page size", "?pageSize=2", http.StatusOK, 2, 6},
		{"page beyond total", "?page=2&pageSize=10", http.StatusOK, 0, 6},
		{"huge page", "?page=100000000000000000&pageSize=100", http.StatusOK, 0, 6},
		{"status filter", "?status=FAILED", http.StatusOK, 5, 5},
		{"client filter", "?clientId=c-live", http.StatusOK, 1, 1},
		{"unknown status", "?status=DONE", http.StatusBadRequest, 0, 0},
		{"page zero", "?page=0", http.StatusBadRequest, 0, 0},
		{"page not a number", "?page=two", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/executions"+tt.query, nil)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[api.ListExecutionsResponse](t, rr)
			assert.Len(t, resp.Items, tt.wantItems)
			assert.Equal(t, tt.wantTotal, resp.Total)
		})
	}
}

func TestStats(t *testing.T) {
	env := newEnv(t, nil)
	trigger(t, env, "deploy-check", "c-gone")
	env.connect(t, "c-42")
	trigger(t, env, "deploy-check", "c-42")

	rr := env.do(t, http.MethodGet, "/executions/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[api.StatsResponse](t, rr)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, int64(1), resp.Counts["FAILED"])
	assert.Equal(t, int64(1), resp.Counts["PENDING"])
	assert.Contains(t, resp.Counts, "CANCELLED")
}

func TestCancelExecution(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, "c-42")
	e := trigger(t, env, "deploy-check", "c-42")

	rr := env.do(t, http.MethodPost, "/execution/"+e.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cancelled := decode[api.ExecutionResponse](t, rr)
	assert.Equal(t, "CANCELLED", cancelled.Status)

	// Cancelling again is a no-op that returns the terminal record.
	rr = env.do(t, http.MethodPost, "/execution/"+e.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, cancelled.FinishedAt, decode[api.ExecutionResponse](t, rr).FinishedAt)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/execution/"+uuid.NewString()+"/cancel", nil).Code)
}

func TestGetTransitions(t *testing.T) {
	env := newEnv(t, nil)
	env.connect(t, "c-42")
	e := trigger(t, env, "deploy-check", "c-42")
	env.do(t, http.MethodPost, "/execution/"+e.ID+"/cancel", nil)

	rr := env.do(t, http.MethodGet, "/execution/"+e.ID+"/transitions", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[api.TransitionsResponse](t, rr)
	assert.Equal(t, e.ID, resp.ExecutionID)
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "PENDING", resp.Transitions[0].From)
	assert.Equal(t, "CANCELLED", resp.Transitions[0].To)
}
