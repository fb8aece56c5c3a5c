package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/usd-asset-library/backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError derives status and code from the error kind. Internal
// errors are reported without their cause.
func RespondServiceError(c *gin.Context, err error) {
	kind := apierr.KindOf(err)
	_ = c.Error(err)
	if kind == apierr.KindInternal {
		RespondError(c, http.StatusInternalServerError, string(kind), errors.New("internal error"))
		return
	}
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		// The user-facing message, without the wrapped upstream detail.
		RespondError(c, kind.HTTPStatus(), string(kind), errors.New(ae.Message))
		return
	}
	RespondError(c, kind.HTTPStatus(), string(kind), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
