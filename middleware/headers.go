// Package middleware provides endpoint processors for serving JSON-RPC over
// HTTP.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
)

// SecurityHeadersProcessor sets response headers suited to a JSON API and
// answers CORS preflight requests.
//
// Defaults from NewSecurityHeadersProcessor:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cross-Origin-Resource-Policy: same-origin
//   - Cache-Control: no-store
type SecurityHeadersProcessor struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds. Zero
	// disables the header.
	HSTSMaxAge        int
	IncludeSubDomains bool

	// Empty values disable the matching header.
	ReferrerPolicy            string
	ContentSecurityPolicy     string
	CrossOriginResourcePolicy string
	CacheControl              string

	NoSniff bool

	// CORS enables cross-origin access. Nil disables CORS headers.
	CORS *CORSConfig
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows any origin unless
	// AllowCredentials is set.
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, a preflight result may be cached.
	MaxAge int
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// NewSecurityHeadersProcessor creates a processor with API defaults.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:                31536000,
		IncludeSubDomains:         true,
		ReferrerPolicy:            "no-referrer",
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		CrossOriginResourcePolicy: "same-origin",
		CacheControl:              "no-store",
		NoSniff:                   true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RPCCORSConfig returns a CORS configuration for browser JSON-RPC clients.
// It allows the safe-mode marker and request id headers in both directions.
func RPCCORSConfig(origins ...string) *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", jsonrpc.SafeHeader, jsonrpc.RequestIDHeader},
		ExposedHeaders: []string{jsonrpc.SafeHeader, jsonrpc.RequestIDHeader},
		MaxAge:         3600,
	}
}

// WithHSTS sets the Strict-Transport-Security max-age. Zero disables it.
func WithHSTS(maxAge int, includeSubDomains bool) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.HSTSMaxAge = maxAge
		p.IncludeSubDomains = includeSubDomains
	}
}

// WithCSP sets the Content-Security-Policy header.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithCORS enables CORS headers.
func WithCORS(config *CORSConfig) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) {
		p.CORS = config
	}
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		hsts := "max-age=" + strconv.Itoa(p.HSTSMaxAge)
		if p.IncludeSubDomains {
			hsts += "; includeSubDomains"
		}
		h.Set("Strict-Transport-Security", hsts)
	}
	setIf(h, "Referrer-Policy", p.ReferrerPolicy)
	setIf(h, "Content-Security-Policy", p.ContentSecurityPolicy)
	setIf(h, "Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	setIf(h, "Cache-Control", p.CacheControl)
	if p.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}

	if p.CORS != nil {
		setCORSHeaders(w, r, p.CORS)

		// Preflight requests never reach the RPC endpoint.
		if r.Method == http.MethodOptions &&
			r.Header.Get("Origin") != "" &&
			r.Header.Get("Access-Control-Request-Method") != "" {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}

	return next(w, r)
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

// setCORSHeaders only acts on cross-origin requests, which carry an Origin
// header.
func setCORSHeaders(w http.ResponseWriter, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()

	for _, allowed := range config.AllowedOrigins {
		if allowed == "*" {
			// '*' is not valid together with credentials.
			if config.AllowCredentials {
				continue
			}
			h.Set("Access-Control-Allow-Origin", "*")
			break
		}
		if allowed == origin {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			break
		}
	}

	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}

	if r.Method == http.MethodOptions {
		if len(config.AllowedMethods) > 0 {
			h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
		}
		if len(config.AllowedHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
		}
		if config.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}
	}
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
