package certdir

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"execplane/internal/store"
	"execplane/pkg/api"
)

func newDirectory(t *testing.T, certs []api.Certificate, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != certificatesPath {
			http.NotFound(w, r)
			return
		}
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.CertificatesResponse{Items: certs, Total: len(certs)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearch_SendsQueryAndBearer(t *testing.T) {
	var gotAuth, gotCN, gotSize string
	srv := newDirectory(t, []api.Certificate{{SerialNumber: "01", ClientID: "c-42", CommonName: "edge-1", TenantID: 7}}, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCN = r.URL.Query().Get("commonName")
		gotSize = r.URL.Query().Get("pageSize")
	})

	c, err := New(context.Background(), Config{BaseURL: srv.URL + "/", Token: "s3cret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Search(context.Background(), "edge-1", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotAuth != "Bearer s3cret" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
	if gotCN != "edge-1" || gotSize != "5" {
		t.Errorf("unexpected query commonName=%q pageSize=%q", gotCN, gotSize)
	}
	if res.Total != 1 || res.Items[0].TenantID != 7 {
		t.Errorf("unexpected response %+v", res)
	}
}

func TestSearch_ClientCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"minted","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	srv := newDirectory(t, nil, func(r *http.Request) { gotAuth = r.Header.Get("Authorization") })

	c, err := New(context.Background(), Config{BaseURL: srv.URL, TokenURL: tokenSrv.URL, ClientID: "execplane", ClientSecret: "x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := c.Search(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotAuth != "Bearer minted" {
		t.Errorf("expected minted token, got %q", gotAuth)
	}
	if res.Items == nil {
		t.Error("expected empty, non-nil items")
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := New(context.Background(), Config{BaseURL: srv.URL})
	if _, err := c.Search(context.Background(), "x", 1); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestResolveClientID(t *testing.T) {
	tests := []struct {
		name    string
		certs   []api.Certificate
		want    string
		wantErr error
	}{
		{
			name:  "single match",
			certs: []api.Certificate{{CommonName: "edge-1", ClientID: "c-1"}},
			want:  "c-1",
		},
		{
			name: "active wins",
			certs: []api.Certificate{
				{CommonName: "edge-1", ClientID: "c-old", Status: "REVOKED"},
				{CommonName: "edge-1", ClientID: "c-new", Status: "ACTIVE"},
			},
			want: "c-new",
		},
		{
			name:    "prefix match is not enough",
			certs:   []api.Certificate{{CommonName: "edge-10", ClientID: "c-10"}},
			wantErr: store.ErrNotFound,
		},
		{
			name:    "none",
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newDirectory(t, tt.certs, nil)
			c, _ := New(context.Background(), Config{BaseURL: srv.URL})

			got, err := c.ResolveClientID(context.Background(), "edge-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without url")
	}
}
