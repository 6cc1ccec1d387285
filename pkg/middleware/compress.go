package middleware

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/andybalholm/brotli"
)

// CompressionLevel represents compression levels
type CompressionLevel int

const (
	// CompressionLevelDefault is the default compression level
	CompressionLevelDefault CompressionLevel = iota
	// CompressionLevelBestSpeed prioritizes speed over compression ratio
	CompressionLevelBestSpeed
	// CompressionLevelBestCompression prioritizes compression ratio over speed
	CompressionLevelBestCompression
)

// CompressionConfig defines compression layer configuration
type CompressionConfig struct {
	// Level sets the compression level
	Level CompressionLevel

	// MinSize is the minimum body size in bytes before compression is applied
	MinSize int

	// EnableBrotli enables Brotli; it is preferred over gzip when the client accepts both
	EnableBrotli bool

	// ContentTypes lists compressible media type prefixes. Empty means any.
	ContentTypes []string
}

// DefaultCompressionConfig returns default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:        CompressionLevelDefault,
		MinSize:      1024,
		EnableBrotli: true,
		ContentTypes: []string{
			"text/",
			"application/json",
			"application/javascript",
			"application/xml",
			"image/svg+xml",
		},
	}
}

// Compression creates a layer that compresses response bodies according to Accept-Encoding.
func Compression(config CompressionConfig) common.Layer {
	return common.LayerFunc("compression", func(r *common.Request, next common.Handler) *common.Response {
		accept := r.Header.Get("Accept-Encoding")
		resp := next(r)

		if accept == "" || resp.Upgrade != nil || len(resp.Body) < config.MinSize ||
			resp.Header.Get("Content-Encoding") != "" || !compressible(config, resp.Header.Get("Content-Type")) {
			return resp
		}

		encoding := negotiateEncoding(accept, config.EnableBrotli)
		if encoding == "" {
			return resp
		}

		body, err := compressBody(encoding, config.Level, resp.Body)
		if err != nil {
			return resp
		}
		resp.Body = body
		resp.SetHeader("Content-Encoding", encoding)
		resp.Header.Add("Vary", "Accept-Encoding")
		resp.Header.Del("Content-Length")
		return resp
	})
}

// negotiateEncoding picks br, then gzip, among the codings the client accepts.
// A coding listed with q=0 is refused.
func negotiateEncoding(accept string, brotliEnabled bool) string {
	accepted := make(map[string]bool)
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := strings.ReplaceAll(params, " ", "")
		accepted[name] = q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}
	switch {
	case brotliEnabled && (accepted["br"] || accepted["*"]):
		return "br"
	case accepted["gzip"] || accepted["*"]:
		return "gzip"
	}
	return ""
}

func compressible(config CompressionConfig, contentType string) bool {
	if len(config.ContentTypes) == 0 {
		return true
	}
	for _, prefix := range config.ContentTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

func compressBody(encoding string, level CompressionLevel, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "br":
		lvl := brotli.DefaultCompression
		switch level {
		case CompressionLevelBestSpeed:
			lvl = brotli.BestSpeed
		case CompressionLevelBestCompression:
			lvl = brotli.BestCompression
		}
		w := brotli.NewWriterLevel(&buf, lvl)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		lvl := gzip.DefaultCompression
		switch level {
		case CompressionLevelBestSpeed:
			lvl = gzip.BestSpeed
		case CompressionLevelBestCompression:
			lvl = gzip.BestCompression
		}
		w, err := gzip.NewWriterLevel(&buf, lvl)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
