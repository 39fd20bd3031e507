package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	coreerrors "foreman/internal/shared/errors"
)

// ErrorResponse is the JSON body returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var statusByKind = map[coreerrors.Kind]int{
	coreerrors.KindValidation:        http.StatusBadRequest,
	coreerrors.KindNotFound:          http.StatusNotFound,
	coreerrors.KindInvalidTransition: http.StatusBadRequest,
	coreerrors.KindConflict:          http.StatusConflict,
	coreerrors.KindUnauthenticated:   http.StatusUnauthorized,
	coreerrors.KindForbidden:         http.StatusForbidden,
	coreerrors.KindInternal:          http.StatusInternalServerError,
}

// respondError classifies err via coreerrors.KindOf and writes the matching
// HTTP status and body. Internal-kind errors never leak cause details to
// the client; the cause is only ever logged server-side.
func respondError(c *gin.Context, err error) {
	kind := coreerrors.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := ErrorResponse{Kind: string(kind)}
	if kind == coreerrors.KindInternal {
		body.Error = "internal error"
	} else {
		body.Error = err.Error()
	}
	c.JSON(status, body)
}
