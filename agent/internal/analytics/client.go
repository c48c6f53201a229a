package analytics

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flarewatch/flarewatch/agent/internal/config"
)

//go:embed query.graphql
var query string

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// ErrAccountNotFound is returned when the response holds no account entry,
// typically because the token cannot read the requested account.
var ErrAccountNotFound = errors.New("analytics: account not found in response")

// Client performs analytics queries against one GraphQL endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	datasets []string
}

// New builds a Client for the API settings in cfg. Only the named datasets
// are decoded from responses.
func New(cfg config.APIConfig, datasets []string) (*Client, error) {
	hc, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("analytics: build http client: %w", err)
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     hc,
		datasets: append([]string(nil), datasets...),
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// Fetch runs the analytics query for req and returns the decoded groups.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: query,
		Variables: map[string]any{
			"accountTag":    req.AccountID,
			"datetimeStart": req.Window.Start.UTC().Format(time.RFC3339),
			"datetimeEnd":   req.Window.End.UTC().Format(time.RFC3339),
			"limit":         req.Limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analytics: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analytics: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("analytics: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analytics: unexpected status %d: %s", resp.StatusCode, snippet(data))
	}
	return decodeResponse(data, c.datasets)
}

// decodeResponse extracts the groups of each dataset from a GraphQL response.
func decodeResponse(data []byte, datasets []string) (*Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("analytics: response is not valid JSON: %s", snippet(data))
	}

	if errs := gjson.GetBytes(data, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		var msgs []string
		for _, e := range errs.Array() {
			msgs = append(msgs, e.Get("message").String())
		}
		return nil, fmt.Errorf("analytics: graphql errors: %s", strings.Join(msgs, "; "))
	}

	accounts := gjson.GetBytes(data, "data.viewer.accounts")
	if !accounts.IsArray() || len(accounts.Array()) == 0 {
		return nil, ErrAccountNotFound
	}
	account := accounts.Array()[0]

	out := &Response{Groups: make(map[string][]Group, len(datasets))}
	for _, ds := range datasets {
		res := account.Get(ds)
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		if !res.IsArray() {
			return nil, fmt.Errorf("analytics: %s: expected a list", ds)
		}
		items := res.Array()
		groups := make([]Group, 0, len(items))
		for i, item := range items {
			g, err := decodeGroup(item)
			if err != nil {
				return nil, fmt.Errorf("analytics: %s[%d]: %w", ds, i, err)
			}
			groups = append(groups, g)
		}
		out.Groups[ds] = groups
	}
	return out, nil
}

func decodeGroup(item gjson.Result) (Group, error) {
	var g Group
	if !item.IsObject() {
		return g, errors.New("expected an object")
	}

	if dims := item.Get("dimensions"); dims.IsObject() {
		g.Dimensions = make(map[string]string)
		for k, v := range dims.Map() {
			if v.Type == gjson.Null {
				continue
			}
			g.Dimensions[k] = v.String()
		}
	}

	var err error
	if g.Sum, err = decodeBlock(item, BlockSum); err != nil {
		return g, err
	}
	if g.Avg, err = decodeBlock(item, BlockAvg); err != nil {
		return g, err
	}
	if g.Quantiles, err = decodeBlock(item, BlockQuantiles); err != nil {
		return g, err
	}
	return g, nil
}

// decodeBlock returns nil when the block is absent or null. Null fields
// inside a block are dropped; other non-numeric fields are an error.
func decodeBlock(item gjson.Result, name string) (map[string]float64, error) {
	res := item.Get(name)
	if !res.Exists() || res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsObject() {
		return nil, fmt.Errorf("%s: expected an object", name)
	}
	out := make(map[string]float64)
	for k, v := range res.Map() {
		switch v.Type {
		case gjson.Number:
			out[k] = v.Float()
		case gjson.Null:
		default:
			return nil, fmt.Errorf("%s.%s: expected a number, got %s", name, k, v.Type)
		}
	}
	return out, nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "bearer", "":
		if tok := t.auth.Token(); tok != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
		if email := t.auth.Email(); email != "" {
			req.Header.Set("X-Auth-Email", email)
		}
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the API auth and TLS settings.
func buildHTTPClient(cfg config.APIConfig) (*http.Client, error) {
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg

	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: cfg.Auth},
		Timeout:   cfg.Timeout,
	}, nil
}
