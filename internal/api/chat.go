package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/docsage/docsage/internal/chat"
	"github.com/docsage/docsage/internal/ratelimit"
	"github.com/docsage/docsage/internal/rewrite"
	"github.com/docsage/docsage/wire"
)

// maxChatBodyBytes bounds the request body; conversations larger than
// this should have been truncated client-side long ago.
const maxChatBodyBytes = 1 << 20

// Responder runs one conversation turn. Implemented by chat.Pipeline;
// tests substitute mocks.
type Responder interface {
	Respond(ctx context.Context, userID string, history []rewrite.Message) (*chat.Reply, error)
}

// Admitter is the per-user admission gate. Implemented by
// ratelimit.Gate.
type Admitter interface {
	Admit(ctx context.Context, userID string, op ratelimit.Operation) (ratelimit.Decision, error)
}

// chatHandler serves POST /api/chat: the full question-to-answer
// pipeline with the streamed wire framing.
type chatHandler struct {
	pipeline Responder
	gate     Admitter
	logger   *slog.Logger
}

// chatRequest is the inbound conversation payload.
type chatRequest struct {
	Messages []rewrite.Message `json:"messages"`
}

// serve handles one chat request. Admission runs before any evidence
// lookup or model call; rejected requests cost nothing downstream.
func (h *chatHandler) serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content == "" {
		writeError(w, http.StatusBadRequest, "last message is empty")
		return
	}

	if !admit(w, r.Context(), h.gate, h.logger, userID, ratelimit.OpChat) {
		return
	}

	if _, canFlush := w.(http.Flusher); !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reply, err := h.pipeline.Respond(r.Context(), userID, req.Messages)
	if err != nil {
		h.logger.Error("chat pipeline failed", "user", userID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to generate an answer, please try again")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	mux := wire.NewMultiplexer(w)
	wroteAny := false
	for text, streamErr := range reply.Stream {
		if streamErr != nil {
			h.logger.Error("answer stream failed", "user", userID, "error", streamErr)
			if !wroteAny {
				writeError(w, http.StatusBadGateway, "failed to generate an answer, please try again")
				return
			}
			// Headers and partial text are already out. Abort the
			// connection so the client sees a terminal read error
			// instead of a silently truncated answer.
			panic(http.ErrAbortHandler)
		}
		if text == "" {
			continue
		}
		if !wroteAny {
			w.WriteHeader(http.StatusOK)
			wroteAny = true
		}
		if err := mux.WriteText(text); err != nil {
			// Write failure usually means the client disconnected.
			h.logger.Debug("client write failed", "user", userID, "error", err)
			return
		}
	}

	if !wroteAny {
		h.logger.Warn("model produced empty answer", "user", userID)
		writeError(w, http.StatusBadGateway, "the model returned an empty answer, please try again")
		return
	}

	if err := mux.Close(reply.Citations); err != nil {
		h.logger.Warn("writing citation block", "user", userID, "error", err)
	}
}

// admit runs the per-user gate for op. It writes the rejection
// response and returns false when the request must not proceed.
func admit(w http.ResponseWriter, ctx context.Context, gate Admitter, logger *slog.Logger, userID string, op ratelimit.Operation) bool {
	decision, err := gate.Admit(ctx, userID, op)
	if err != nil {
		// Fail closed: an unreachable counter store rejects.
		logger.Error("admission gate unavailable", "user", userID, "operation", op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service is busy, please try again shortly")
		return false
	}
	if !decision.Allowed {
		retry := decision.RetrySeconds(time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf(
			"rate limit reached (%d per window for %s), try again in %d seconds",
			decision.Limit, op, retry))
		return false
	}
	return true
}
