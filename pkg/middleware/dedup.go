package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/store"
	"go.uber.org/zap"
)

// DedupConfig configures the request deduplication layer.
type DedupConfig struct {
	// HeaderName carries the client-chosen idempotency key. Defaults to "Idempotency-Key".
	HeaderName string
	// TTL is how long a key is remembered. Defaults to 5 minutes.
	TTL time.Duration
	// Store holds seen keys. Defaults to an in-memory store; use a Redis store to
	// deduplicate across instances.
	Store store.Store
	// KeyPrefix namespaces keys in a shared store. Defaults to "dedup:".
	KeyPrefix string
}

// Dedup creates a layer that rejects a request whose idempotency key was seen within
// the TTL with 409 duplicate_request. Requests without the header pass through.
// The key is recorded before the inner chain runs, so a retry that races the original
// is rejected too. When the store fails the request is let through.
func Dedup(config DedupConfig, logger *zap.Logger) common.Layer {
	if config.HeaderName == "" {
		config.HeaderName = "Idempotency-Key"
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Store == nil {
		config.Store = store.NewMemoryStore()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "dedup:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return common.LayerFunc("dedup", func(r *common.Request, next common.Handler) *common.Response {
		key := r.Header.Get(config.HeaderName)
		if key == "" {
			return next(r)
		}

		stamp := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
		fresh, err := config.Store.SetNX(r.Context(), config.KeyPrefix+key, stamp, config.TTL)
		if err != nil {
			logger.Error("Dedup store failed", requestFields(r, zap.Error(err))...)
			return next(r)
		}
		if !fresh {
			logger.Debug("Duplicate request rejected", requestFields(r, zap.String("key", key))...)
			return common.ErrorResponse(r, common.NewError(409, "duplicate_request",
				fmt.Sprintf("Request with key '%s' has already been processed or is processing", key)))
		}
		return next(r)
	})
}
