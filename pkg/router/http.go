package router

import (
	"net/http"

	"github.com/Suhaibinator/SDispatch/pkg/common"
)

// HTTPHandler mounts a net/http handler as an endpoint. The handler writes to the
// connection directly through the response's upgrade hook, so layers see a 200 with
// an empty body and do not rewrite it.
func HTTPHandler(h http.Handler) common.Endpoint {
	return common.Handler(func(r *common.Request) *common.Response {
		resp := common.NewResponse(http.StatusOK)
		resp.Upgrade = h.ServeHTTP
		return resp
	})
}
