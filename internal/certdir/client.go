// Package certdir is a read-only client for the certificate directory.
package certdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"execplane/internal/store"
	"execplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const certificatesPath = "/admin/v1/modules/lcm/v1/certificates"

// Config selects the directory and how to authenticate against it.
// TokenURL enables OAuth2 client credentials; otherwise Token is sent as a static bearer.
type Config struct {
	BaseURL      string
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("certificate directory url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid certificate directory url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var hc *http.Client
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		hc = cc.Client(ctx)
	case cfg.Token != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	default:
		hc = &http.Client{}
	}
	hc.Timeout = cfg.Timeout

	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: hc}, nil
}

// Search lists certificates whose common name matches commonName.
func (c *Client) Search(ctx context.Context, commonName string, pageSize int) (*api.CertificatesResponse, error) {
	q := url.Values{}
	if commonName != "" {
		q.Set("commonName", commonName)
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	u := c.baseURL + certificatesPath
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certificate directory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certificate directory returned status %d", resp.StatusCode)
	}

	var out api.CertificatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode certificates: %w", err)
	}
	if out.Items == nil {
		out.Items = []api.Certificate{}
	}
	return &out, nil
}

// ResolveClientID returns the client id bound to commonName. Active certificates win
// over others; no exact match is store.ErrNotFound.
func (c *Client) ResolveClientID(ctx context.Context, commonName string) (string, error) {
	res, err := c.Search(ctx, commonName, 20)
	if err != nil {
		return "", err
	}

	var fallback string
	for _, cert := range res.Items {
		if cert.CommonName != commonName || cert.ClientID == "" {
			continue
		}
		if strings.EqualFold(cert.Status, "active") {
			return cert.ClientID, nil
		}
		if fallback == "" {
			fallback = cert.ClientID
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("no certificate for common name %q: %w", commonName, store.ErrNotFound)
	}
	return fallback, nil
}
