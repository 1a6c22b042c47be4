package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/application/usecase"
	"github.com/relaygate/relaygate/internal/domain/message"
	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/infrastructure/llm"
	"github.com/relaygate/relaygate/internal/infrastructure/llm/openai"
)

// MessagesHandler serves the canonical messages endpoint and the
// Responses-shape shim.
type MessagesHandler struct {
	gw     *usecase.Gateway
	logger *zap.Logger
}

// NewMessagesHandler creates the handler.
func NewMessagesHandler(gw *usecase.Gateway, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{gw: gw, logger: logger}
}

// messagesResponse is the canonical body plus the routing decision for
// observability.
type messagesResponse struct {
	*message.Response
	Routing routing.Decision `json:"relaygate_routing"`
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Messages handles POST /messages: canonical shape in, canonical shape or
// an SSE passthrough out.
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req message.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{
			Kind:    llm.ErrKindInvalidRequest.String(),
			Message: "malformed request body: " + err.Error(),
		}})
		return
	}
	h.run(c, &req)
}

// Responses handles POST /responses: the alternate input shape is mapped to
// canonical form before entering the pipeline.
func (h *MessagesHandler) Responses(c *gin.Context) {
	var in openai.ResponsesInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{
			Kind:    llm.ErrKindInvalidRequest.String(),
			Message: "malformed request body: " + err.Error(),
		}})
		return
	}

	req, err := openai.FromResponsesInput(&in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.run(c, req)
}

func (h *MessagesHandler) run(c *gin.Context, req *message.Request) {
	result, err := h.gw.Handle(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Stream != nil {
		h.relayStream(c, result.Stream)
		return
	}

	c.JSON(http.StatusOK, messagesResponse{
		Response: result.Response,
		Routing:  result.Decision,
	})
}

// relayStream copies the upstream SSE bytes to the client, flushing as data
// arrives. No translation happens on this path.
func (h *MessagesHandler) relayStream(c *gin.Context, handle *llm.StreamHandle) {
	defer handle.Close()

	contentType := handle.ContentType
	if contentType == "" {
		contentType = "text/event-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := handle.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return // client went away
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn("Stream relay interrupted", zap.Error(err))
			}
			return
		}
	}
}

func (h *MessagesHandler) writeError(c *gin.Context, err error) {
	ge := llm.Classify(err, "")
	status := ge.Kind.HTTPStatus(ge.StatusCode)

	h.logger.Warn("Request failed",
		zap.String("kind", ge.Kind.String()),
		zap.Int("status", status),
		zap.Error(err),
	)
	c.JSON(status, errorBody{Error: errorDetail{
		Kind:    ge.Kind.String(),
		Message: ge.Message,
	}})
}
