package shipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/flarewatch/flarewatch/agent/internal/config"
	"github.com/flarewatch/flarewatch/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	maxErrorBody      = 4 << 10
	userAgent         = "flarewatch-agent"
)

// StatusError is a non-2xx OTLP/HTTP response.
type StatusError struct {
	StatusCode int
	Body       string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shipper: collector returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed later: 429 or any 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Shipper sends payloads to one collector endpoint.
// Send is safe for concurrent use.
type Shipper struct {
	cfg     config.ExportConfig
	headers map[string]string

	http *http.Client
	conn *grpc.ClientConn
	grpc pmetricotlp.GRPCClient

	initialBackoff time.Duration // injectable for tests
}

// dialFunc opens the gRPC client connection. Abstracted for tests.
type dialFunc func(endpoint string, cfg config.ExportConfig) (*grpc.ClientConn, error)

// New creates a Shipper for cfg. For grpc the connection is established
// lazily on the first Send.
func New(cfg config.ExportConfig) (*Shipper, error) {
	return newShipper(cfg, defaultDial)
}

func newShipper(cfg config.ExportConfig, dial dialFunc) (*Shipper, error) {
	s := &Shipper{
		cfg:            cfg,
		headers:        ParseHeaders(cfg.HeaderString()),
		initialBackoff: backoffInitial,
	}

	switch cfg.Protocol {
	case config.ProtocolGRPC:
		conn, err := dial(cfg.Endpoint, cfg)
		if err != nil {
			return nil, fmt.Errorf("shipper: dial %s: %w", cfg.Endpoint, err)
		}
		s.conn = conn
		s.grpc = pmetricotlp.NewGRPCClient(conn)
	default:
		tlsCfg, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("shipper: tls: %w", err)
		}
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSClientConfig = tlsCfg
		s.http = &http.Client{Transport: base, Timeout: cfg.Timeout}
	}
	return s, nil
}

// Close releases the gRPC connection, if any.
func (s *Shipper) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Send pushes p, retrying transient failures. It returns the last error when
// every attempt failed or a permanent error occurred.
func (s *Shipper) Send(ctx context.Context, p types.Payload) error {
	bo := newBackoff(s.initialBackoff)
	attempts := s.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.sendOnce(ctx, p)
		if err == nil {
			if attempt > 1 {
				slog.Info("shipper: delivered after retry", "attempt", attempt)
			}
			return nil
		}
		if isPermanentError(err) || attempt == attempts {
			break
		}

		wait := bo.next()
		var se *StatusError
		if errors.As(err, &se) && se.retryAfter > 0 {
			wait = se.retryAfter
		}
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.cfg.Endpoint,
			"attempt", attempt,
			"err", err,
			"retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func (s *Shipper) sendOnce(ctx context.Context, p types.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.grpc != nil {
		return s.sendGRPC(ctx, p)
	}
	return s.sendHTTP(ctx, p)
}

func (s *Shipper) sendHTTP(ctx context.Context, p types.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return permanent(fmt.Errorf("shipper: build request: %w", err))
	}
	req.Header.Set("Content-Type", p.ContentType)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("shipper: post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func (s *Shipper) sendGRPC(ctx context.Context, p types.Payload) error {
	if !p.IsProtobuf() {
		return permanent(fmt.Errorf("shipper: grpc needs a protobuf payload, got %s", p.ContentType))
	}
	req := pmetricotlp.NewExportRequest()
	if err := req.UnmarshalProto(p.Body); err != nil {
		return permanent(fmt.Errorf("shipper: decode payload: %w", err))
	}

	if len(s.headers) > 0 {
		kv := make([]string, 0, len(s.headers)*2)
		for k, v := range s.headers {
			kv = append(kv, strings.ToLower(k), v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, kv...)
	}

	resp, err := s.grpc.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("shipper: export: %w", err)
	}
	if ps := resp.PartialSuccess(); ps.RejectedDataPoints() > 0 {
		slog.Warn("shipper: collector rejected data points",
			"rejected", ps.RejectedDataPoints(), "message", ps.ErrorMessage())
	}
	return nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// isPermanentError returns true for errors that retrying cannot fix.
func isPermanentError(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Retryable()
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied,
			codes.Unimplemented, codes.NotFound, codes.FailedPrecondition, codes.AlreadyExists:
			return true
		}
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// defaultDial creates the gRPC client connection for cfg.
func defaultDial(endpoint string, cfg config.ExportConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(endpoint, opts...)
}

// dialOptions selects plaintext or TLS transport credentials.
func dialOptions(cfg config.ExportConfig) ([]grpc.DialOption, error) {
	if cfg.Insecure {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build tls creds: %w", err)
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
