package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/retrieval"
	"github.com/kb-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	processor *retrieval.Processor
}

func NewWebSocketHandler(processor *retrieval.Processor) *WebSocketHandler {
	return &WebSocketHandler{processor: processor}
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// Confidence and latency are never omitted: a 0.0 confidence is a real
// value on the complete frame, not an absent field.
type wsResponse struct {
	Type       string             `json:"type"`
	Content    string             `json:"content,omitempty"`
	MessageID  string             `json:"message_id,omitempty"`
	Sources    []retrieval.Source `json:"sources,omitempty"`
	Confidence float64            `json:"confidence"`
	LatencyMS  int                `json:"latency_ms"`
	Error      string             `json:"error,omitempty"`
}

// HandleConnection serves one client for the lifetime of the socket.
// Each incoming query is answered as a stream of chunk frames followed
// by a complete frame carrying sources and confidence.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	defer c.Close()

	logger.Info("WebSocket connection established",
		zap.String("remote_addr", c.RemoteAddr().String()))

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			logger.Debug("WebSocket connection closed", zap.Error(err))
			return
		}

		var message wsMessage
		if err := json.Unmarshal(msg, &message); err != nil {
			h.sendError(c, "Invalid message format")
			continue
		}

		if message.Type != "query" || message.Content == "" {
			h.sendError(c, "Expected a query message with content")
			continue
		}

		h.streamResponse(c, message)
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, message wsMessage) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	response := h.processor.Process(ctx, retrieval.Request{
		Query:  message.Content,
		UserID: message.UserID,
	})

	metrics.QueryDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())

	for _, word := range splitIntoWords(response.Text) {
		if err := h.sendChunk(c, word); err != nil {
			logger.Warn("Failed to send chunk", zap.Error(err))
			return
		}
	}

	h.sendComplete(c, response)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, content string) error {
	return c.WriteJSON(wsResponse{
		Type:    "chunk",
		Content: content,
	})
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, response *retrieval.Response) {
	err := c.WriteJSON(wsResponse{
		Type:       "complete",
		MessageID:  response.ID,
		Sources:    response.Sources,
		Confidence: response.Confidence,
		LatencyMS:  response.LatencyMS,
	})
	if err != nil {
		logger.Warn("Failed to send completion frame", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errMsg string) {
	err := c.WriteJSON(wsResponse{
		Type:  "error",
		Error: errMsg,
	})
	if err != nil {
		logger.Warn("Failed to send error frame", zap.Error(err))
	}
}

// splitIntoWords keeps trailing spaces on each word so the client can
// concatenate chunks without re-inserting separators.
func splitIntoWords(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			words = append(words, f+" ")
		} else {
			words = append(words, f)
		}
	}
	return words
}
