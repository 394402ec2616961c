package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/requestcontext"
)

// HeaderPrincipal is the header carrying the name of the caller generating
// or applying a manifest.
const HeaderPrincipal = "X-Principal"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			// get request id from header
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			// get principal from header
			principal := req.Header.Get(HeaderPrincipal)

			ctx := req.Context()
			ctx = requestcontext.SetRequestID(ctx, requestID)
			ctx = requestcontext.SetMethod(ctx, req.Method)
			ctx = requestcontext.SetRoute(ctx, req.URL.Path)
			ctx = requestcontext.SetRemoteIP(ctx, c.RealIP())
			ctx = requestcontext.SetReferer(ctx, req.Referer())
			ctx = requestcontext.SetPrincipal(ctx, principal)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
