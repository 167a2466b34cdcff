package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Error returns a standard error response and stops the handler chain.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
	ctx.Abort()
}

// Fail writes the response matching err's class. Unknown errors become 500 and are logged.
func Fail(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		Error(ctx, http.StatusUnauthorized, 40100, err.Error())
	case errors.Is(err, ErrForbidden):
		Error(ctx, http.StatusForbidden, 40300, err.Error())
	case errors.Is(err, ErrNotFound):
		Error(ctx, http.StatusNotFound, 40400, err.Error())
	case errors.Is(err, ErrValidation):
		Error(ctx, http.StatusBadRequest, 40000, err.Error())
	case errors.Is(err, ErrUnavailable):
		Sugar.Warnw("storage unavailable", "path", ctx.Request.URL.Path, "err", err)
		Error(ctx, http.StatusServiceUnavailable, 50300, "service temporarily unavailable")
	case errors.Is(err, ErrConflict):
		Error(ctx, http.StatusConflict, 40900, err.Error())
	default:
		Sugar.Errorw("request failed", "path", ctx.Request.URL.Path, "err", err)
		Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}
