package server

import (
	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const opDecodeRequest = "http.decode_request"

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError writes the {"error","code"} body with the status mapped from the error kind.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("http.handler", "unclassified", err)
	}
	status := apperr.HTTPStatus(appErr.Kind)
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUpstream {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorPayload{Error: appErr.Message, Code: appErr.Code})
}

func invalidJSON(err error) error {
	return apperr.New(apperr.KindValidation, opDecodeRequest, "invalid_json", "corpo da requisição inválido", err)
}
