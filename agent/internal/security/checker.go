package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/flarewatch/flarewatch/agent/internal/config"
)

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// ExpiringWithin is the remaining validity below which a certificate is
// reported as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate of one endpoint.
type CertStatus struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	DaysLeft int    `json:"days_left"`
	Issuer   string `json:"issuer,omitempty"`
	NotAfter string `json:"not_after,omitempty"` // RFC3339
	Error    string `json:"error,omitempty"`
}

// Target is one endpoint to inspect.
type Target struct {
	Name     string
	Endpoint string // https URL, or host:port for TLS gRPC
	TLS      config.TLSConfig
}

// Targets lists the TLS endpoints of cfg: the analytics API when it is https
// and the export endpoint when it is https or a secure grpc target.
func Targets(cfg config.AgentConfig) []Target {
	var out []Target
	if strings.HasPrefix(cfg.API.Endpoint, "https://") {
		out = append(out, Target{Name: "api", Endpoint: cfg.API.Endpoint, TLS: cfg.API.TLS})
	}
	exp := cfg.Export
	if strings.HasPrefix(exp.Endpoint, "https://") ||
		(exp.Protocol == config.ProtocolGRPC && !exp.Insecure) {
		out = append(out, Target{Name: "export", Endpoint: exp.Endpoint, TLS: exp.TLS})
	}
	return out
}

// Check dials t and returns the status of its leaf certificate. It returns nil
// for plain-http endpoints. The dial is bounded to 10 seconds.
func Check(ctx context.Context, t Target) *CertStatus {
	host, ok := dialHost(t.Endpoint)
	if !ok {
		return nil
	}
	cs := &CertStatus{Name: t.Name, Endpoint: t.Endpoint}

	tlsCfg, err := t.TLS.ClientConfig()
	if err != nil {
		cs.Status = StatusUnreachable
		cs.Error = err.Error()
		return cs
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsCfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		cs.Error = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = StatusExpired
	case left <= ExpiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}

// CheckAll checks every target and skips the ones that have no certificate.
func CheckAll(ctx context.Context, targets []Target) []*CertStatus {
	out := make([]*CertStatus, 0, len(targets))
	for _, t := range targets {
		if cs := Check(ctx, t); cs != nil {
			out = append(out, cs)
		}
	}
	return out
}

// dialHost returns host:port for a TLS endpoint, defaulting the port to 443.
func dialHost(endpoint string) (string, bool) {
	host := endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme != "https" {
			return "", false
		}
		host = u.Host
	}
	if host == "" {
		return "", false
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	return host, true
}
