package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/opbridge/opbridge/internal/agent"
)

// maxMessageBody bounds inbound webhook bodies.
const maxMessageBody = 1 << 20

// SendMessageRequest is the webhook body. Message is a pointer so a
// missing field can be told apart from an empty one.
type SendMessageRequest struct {
	Message *string `json:"message"`
	Format  string  `json:"format,omitempty"` // "html" adds rendered HTML
}

// SendMessageResponse is the webhook reply.
type SendMessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	HTML    string `json:"html,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody)).Decode(&req); err != nil || req.Message == nil {
		s.errorResponse(w, http.StatusBadRequest, "Missing 'message' field")
		return
	}

	reply, err := s.cfg.Sender.Send(r.Context(), *req.Message)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	resp := SendMessageResponse{Status: "ok", Message: reply}
	if req.Format == "html" && reply != "" {
		html, err := renderHTML(reply)
		if err != nil {
			s.logger.Warn("failed to render reply as HTML", "error", err)
		} else {
			resp.HTML = html
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// sendError maps dispatch failures to HTTP responses.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrTimeout):
		s.logger.Warn("assistant reply timed out", "timeout", s.cfg.ReplyTimeout)
		s.errorResponse(w, http.StatusGatewayTimeout, "Timed out waiting for assistant reply")
	case errors.Is(err, agent.ErrQueueFull):
		s.errorResponse(w, http.StatusServiceUnavailable, "Assistant is busy, try again later")
	case errors.Is(err, agent.ErrWorkerStopped):
		s.errorResponse(w, http.StatusServiceUnavailable, "Server is shutting down")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		s.logger.Debug("client went away before the reply", "error", err)
	default:
		s.logger.Error("message dispatch failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "Assistant request failed")
	}
}

// renderHTML converts a markdown reply to an HTML fragment. Raw HTML in
// the reply is not passed through.
func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
