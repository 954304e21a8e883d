package v1

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/SilicateWielder/memlayer/server/consolidation"
	"github.com/SilicateWielder/memlayer/server/internal/observability"
	"github.com/SilicateWielder/memlayer/server/retrieval"
	"github.com/SilicateWielder/memlayer/store"
)

type chatRequest struct {
	ConversationID   string `json:"conversationId"`
	UserID           string `json:"userId"`
	UserMessage      string `json:"userMessage"`
	AssistantMessage string `json:"assistantMessage"`
}

type chatResponse struct {
	ConversationID   string `json:"conversationId"`
	AssistantMessage string `json:"assistantMessage"`
	InteractionID    string `json:"interactionId"`
	MemoryID         string `json:"memoryId,omitempty"`
	// MemoriesUsed lists the memory ids consulted to produce the reply.
	MemoriesUsed  []string `json:"memoriesUsed,omitempty"`
	LinksInferred int      `json:"linksInferred"`
	// Degraded marks an interaction persisted without an episodic memory.
	Degraded bool `json:"degraded"`
}

// contextMemories is how many past memories are recalled to inform a
// generated reply.
const contextMemories = 3

// handleChat records one turn. When the caller does not supply the assistant
// message the configured Responder produces it first, informed by recalled
// memories whose ids are written back to the interaction.
func (s *APIV1Service) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "malformed request body"))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "userId is required"))
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "userMessage is required"))
	}

	reqCtx := observability.NewRequestContext(slog.Default(), "chat", req.UserID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	if req.ConversationID != "" && s.Store != nil {
		conversation, err := s.Store.GetConversation(ctx, &store.FindConversation{ID: &req.ConversationID})
		if err != nil {
			reqCtx.Error("conversation lookup failed", err)
			return errorResponse(c, err)
		}
		if conversation != nil && conversation.UserID != req.UserID {
			return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "conversation belongs to another user"))
		}
	}

	assistantMessage := req.AssistantMessage
	var memoriesUsed []string
	if assistantMessage == "" {
		// Recall past memories before replying. Retrieval failure (for one,
		// no embedding provider) degrades to an uninformed reply.
		if s.Retriever != nil {
			recalled, err := s.Retriever.Retrieve(ctx, &retrieval.Options{
				Query:  req.UserMessage,
				UserID: req.UserID,
				K:      contextMemories,
			})
			if err != nil {
				reqCtx.Warn("memory recall failed", slog.String("error", err.Error()))
			} else if recalled != nil {
				for _, scored := range recalled.Memories {
					memoriesUsed = append(memoriesUsed, scored.Memory.ID)
				}
			}
		}
		reply, err := s.Responder.Respond(ctx, req.UserMessage)
		if err != nil {
			return errorResponse(c, err)
		}
		assistantMessage = reply
	}

	result, err := s.Consolidator.Consolidate(ctx, &consolidation.Request{
		ConversationID:   req.ConversationID,
		UserID:           req.UserID,
		UserMessage:      req.UserMessage,
		AssistantMessage: assistantMessage,
	})
	if err != nil {
		reqCtx.Error("consolidation failed", err)
		return errorResponse(c, err)
	}

	if len(memoriesUsed) > 0 && s.Store != nil {
		if err := s.Store.UpdateInteraction(ctx, &store.UpdateInteraction{
			ID:           result.Interaction.ID,
			MemoriesUsed: memoriesUsed,
		}); err != nil {
			reqCtx.Warn("failed to record consulted memories", slog.String("error", err.Error()))
		}
	}

	degraded := result.Memory == nil
	reqCtx.Info("interaction consolidated",
		slog.String(observability.LogFieldConversationID, result.Interaction.ConversationID),
		slog.Bool("degraded", degraded),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	if s.Stats != nil {
		s.Stats.RecordConsolidation(degraded)
		if len(result.Links) > 0 {
			s.Stats.RecordLinksInferred(len(result.Links))
		}
	}

	resp := chatResponse{
		ConversationID:   result.Interaction.ConversationID,
		AssistantMessage: assistantMessage,
		InteractionID:    result.Interaction.ID,
		MemoriesUsed:     memoriesUsed,
		LinksInferred:    len(result.Links),
		Degraded:         degraded,
	}
	if result.Memory != nil {
		resp.MemoryID = result.Memory.ID
	}
	return c.JSON(http.StatusOK, resp)
}

// bindPeek decodes the request body into v without consuming it, so the
// handler's own Bind still sees the full payload.
func bindPeek(c echo.Context, v any) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))
	return json.Unmarshal(body, v)
}
