package middleware

import (
	"strconv"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

// SecurityHeadersConfig selects the headers added to every response.
type SecurityHeadersConfig struct {
	ContentTypeNosniff bool
	FrameOptions       string // X-Frame-Options, e.g. "DENY"
	ReferrerPolicy     string
	// HSTSMaxAge enables Strict-Transport-Security when positive (seconds).
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

// DefaultSecurityHeadersConfig returns a conservative configuration without HSTS.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentTypeNosniff: true,
		FrameOptions:       "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
}

// SecurityHeaders creates a layer that adds security headers the handler did not set itself.
func SecurityHeaders(config SecurityHeadersConfig) common.Layer {
	headers := make(map[string]string)
	if config.ContentTypeNosniff {
		headers["X-Content-Type-Options"] = "nosniff"
	}
	if config.FrameOptions != "" {
		headers["X-Frame-Options"] = config.FrameOptions
	}
	if config.ReferrerPolicy != "" {
		headers["Referrer-Policy"] = config.ReferrerPolicy
	}
	if config.HSTSMaxAge > 0 {
		v := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		headers["Strict-Transport-Security"] = v
	}

	return common.LayerFunc("security_headers", func(r *common.Request, next common.Handler) *common.Response {
		resp := next(r)
		for k, v := range headers {
			if resp.Header.Get(k) == "" {
				resp.SetHeader(k, v)
			}
		}
		return resp
	})
}
