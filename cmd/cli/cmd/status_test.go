package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"execplane/pkg/api"

	"github.com/spf13/viper"
)

func TestStatusCommand_Success(t *testing.T) {
	resetViper()

	startTime := time.Now().Add(-10 * time.Minute)
	endTime := time.Now().Add(-9 * time.Minute)
	exitCode := 0
	duration := int64(60000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if r.URL.Path != "/execution/exec-123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}

		resp := api.ExecutionResponse{
			ID:          "exec-123",
			ScriptID:    "backup",
			ScriptName:  "Nightly backup",
			ClientID:    "client-7",
			TriggerType: "UI_PUSH",
			Status:      "SUCCEEDED",
			CreatedAt:   startTime,
			StartedAt:   &startTime,
			FinishedAt:  &endTime,
			ExitCode:    &exitCode,
			DurationMs:  &duration,
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	output := run(t, server.URL, "status", "exec-123")

	for _, want := range []string{"exec-123", "SUCCEEDED", "Nightly backup", "client-7", "UI_PUSH", "1m 0s"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "Error:") {
		t.Errorf("expected no Error line for a successful execution, got: %s", output)
	}
}

func TestStatusCommand_MissingToken(t *testing.T) {
	resetViper()

	viper.Set("url", "http://localhost:6161")
	viper.Set("token", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "exec-123"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "API token not found") {
		t.Errorf("expected token error message, got: %s", output)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "execution not found", Code: api.CodeNotFound})
	}))
	defer server.Close()

	output := run(t, server.URL, "status", "non-existent")
	if !strings.Contains(output, "Error (404): execution not found") {
		t.Errorf("expected 404 error, got: %s", output)
	}
}

func TestStatusCommand_ServerError(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	output := run(t, server.URL, "status", "exec-123")
	if !strings.Contains(output, "Error (500)") {
		t.Errorf("expected 500 error, got: %s", output)
	}
}

func TestStatusCommand_RequiresExecutionIDArgument(t *testing.T) {
	resetViper()
	viper.Set("token", "test-token")

	var stderr bytes.Buffer
	rootCmd.SetOut(&stderr)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"status"})

	err := rootCmd.Execute()
	if err == nil {
		t.Error("expected error when no execution ID provided")
	}
}

func TestStatusCommand_FailedExecution(t *testing.T) {
	resetViper()

	startTime := time.Now().Add(-5 * time.Minute)
	endTime := time.Now().Add(-4 * time.Minute)
	exitCode := 2
	kind := "NonZeroExit"
	msg := "disk full"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := api.ExecutionResponse{
			ID:           "exec-456",
			Status:       "FAILED",
			CreatedAt:    startTime,
			StartedAt:    &startTime,
			FinishedAt:   &endTime,
			ExitCode:     &exitCode,
			ErrorKind:    &kind,
			ErrorMessage: &msg,
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	output := run(t, server.URL, "status", "exec-456")

	if !strings.Contains(output, "FAILED") {
		t.Errorf("expected FAILED status, got: %s", output)
	}
	if !strings.Contains(output, "NonZeroExit: disk full") {
		t.Errorf("expected error kind and message, got: %s", output)
	}
}

func TestStatusCommand_PendingExecution(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ExecutionResponse{ID: "exec-789", Status: "PENDING", CreatedAt: time.Now()})
	}))
	defer server.Close()

	output := run(t, server.URL, "status", "exec-789")

	if !strings.Contains(output, "PENDING") {
		t.Errorf("expected PENDING status, got: %s", output)
	}
	if !strings.Contains(output, "Exit Code:"+colorReset+"   -") {
		t.Errorf("expected placeholder exit code, got: %s", output)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestColorizeStatus(t *testing.T) {
	for _, st := range statsOrder {
		if !strings.Contains(colorizeStatus(st), st) {
			t.Errorf("colorizeStatus(%s) dropped the status name", st)
		}
	}
}
