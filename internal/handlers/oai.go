package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/oaipmh/internal/middleware"
	"github.com/charlesng35/oaipmh/internal/oai"
	appErrors "github.com/charlesng35/oaipmh/pkg/errors"
	"github.com/charlesng35/oaipmh/pkg/logger"
	"github.com/charlesng35/oaipmh/pkg/response"
)

// OAIResponder answers OAI-PMH requests.
type OAIResponder interface {
	Handle(ctx context.Context, req oai.Request) (*oai.Response, error)
}

// OAIHandler exposes the OAI-PMH endpoint over HTTP.
type OAIHandler struct {
	engine OAIResponder
}

// NewOAIHandler constructs the endpoint handler.
func NewOAIHandler(engine OAIResponder) (*OAIHandler, error) {
	if engine == nil {
		return nil, errors.New("oai handler: engine is required")
	}
	return &OAIHandler{engine: engine}, nil
}

// Serve answers GET requests with query arguments and POST requests with
// application/x-www-form-urlencoded bodies. Protocol errors are rendered in
// the XML document with status 200; only internal failures produce an HTTP
// error status.
func (h *OAIHandler) Serve(c *gin.Context) {
	req, err := oaiRequest(c)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("malformed request arguments"))
		return
	}

	res, err := h.engine.Handle(requestContext(c), req)
	if err != nil {
		logger.WithModule("oai").Error("request failed",
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	body, err := res.Bytes()
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.XML(c, http.StatusOK, body)
}
