package middleware

import (
	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/google/uuid"
)

// maxRequestIDLen bounds ids accepted from clients.
const maxRequestIDLen = 128

// RequestID creates a layer that gives every request a correlation id.
// An incoming X-Request-Id header is reused when it is present and printable;
// otherwise a new UUID is generated. The id is echoed on the response.
func RequestID() common.Layer {
	return common.LayerFunc("request_id", func(r *common.Request, next common.Handler) *common.Response {
		id := r.Header.Get(common.RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		r.SetRequestID(id)

		resp := next(r)
		resp.SetHeader(common.RequestIDHeader, id)
		return resp
	})
}

// GetTraceID returns the correlation id of the request, or "" if none was assigned.
func GetTraceID(r *common.Request) string {
	return r.RequestID()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
