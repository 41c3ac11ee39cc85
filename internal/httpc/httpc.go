package httpc

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Httpc holds client settings shared by outbound HTTP integrations.
type Httpc struct {
	TlsConfig *tls.Config
	Timeout   time.Duration
	// Insecure skips certificate verification. Intended for self-signed
	// endpoints in test setups only.
	Insecure bool
	Headers  map[string]string
}

// New returns a resty.Client configured according to the receiver's settings.
// Defaults: MinVersion TLS1.2 when a TLS config is given without one.
func (h *Httpc) New() *resty.Client {
	c := resty.New()
	if h == nil {
		return c
	}
	if h.Timeout > 0 {
		c.SetTimeout(h.Timeout)
	}
	for k, v := range h.Headers {
		c.SetHeader(k, v)
	}
	cfg := h.TlsConfig
	if cfg == nil && h.Insecure {
		cfg = &tls.Config{}
	}
	if cfg == nil {
		return c
	}
	cfg = cfg.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if h.Insecure {
		cfg.InsecureSkipVerify = true // #nosec G402 -- opt-in for test endpoints
	}
	c.SetTLSClientConfig(cfg)
	return c
}

// ParseTLSVersion maps "1.2"/"1.3" (optionally prefixed with "tls") to the
// crypto/tls constant. Empty means 0 (library default).
func ParseTLSVersion(s string) (uint16, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls")
	switch strings.TrimSpace(v) {
	case "":
		return 0, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", s)
	}
}
