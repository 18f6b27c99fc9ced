package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// UserIDHeader carries the authenticated shopper id set by the edge proxy.
const UserIDHeader = "X-User-ID"

// WriteError writes the API error envelope:
//
//	{"error":{"code":"...","message":"..."}}
func WriteError(w http.ResponseWriter, status int, code, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(code) })
				e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
