package v1

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SilicateWielder/memlayer/server/internal/observability"
	"github.com/SilicateWielder/memlayer/server/retrieval"
	"github.com/SilicateWielder/memlayer/server/trace"
)

type searchRequest struct {
	UserID       string `json:"userId"`
	Query        string `json:"query"`
	K            int    `json:"k"`
	MaxHops      int    `json:"maxHops"`
	IncludeTrace bool   `json:"includeTrace"`
}

type memoryResult struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Score          float64   `json:"score"`
	Similarity     float64   `json:"similarity"`
	Hops           int       `json:"hops"`
	Importance     float64   `json:"importance"`
	AttentionCount int       `json:"attentionCount"`
	Timestamp      time.Time `json:"timestamp"`
}

type traceEvent struct {
	Name       string         `json:"name"`
	DurationMs int64          `json:"durationMs"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type searchResponse struct {
	Memories []memoryResult `json:"memories"`
	TraceID  string         `json:"traceId,omitempty"`
	Trace    []traceEvent   `json:"trace,omitempty"`
}

// handleSearch runs a ranked retrieval over the caller's memories.
func (s *APIV1Service) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "malformed request body"))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "userId is required"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("VALIDATION", "query is required"))
	}

	reqCtx := observability.NewRequestContext(slog.Default(), "search", req.UserID)
	ctx := observability.WithRequestContext(c.Request().Context(), reqCtx)

	result, err := s.Retriever.Retrieve(ctx, &retrieval.Options{
		Query:   req.Query,
		UserID:  req.UserID,
		K:       req.K,
		MaxHops: req.MaxHops,
	})
	if err != nil {
		if s.Stats != nil {
			s.Stats.RecordRetrievalFailure()
		}
		reqCtx.Error("retrieval failed", err)
		return errorResponse(c, err)
	}
	if s.Stats != nil {
		s.Stats.RecordRetrieval(len(result.Memories))
	}
	reqCtx.Info("memories retrieved",
		slog.Int("returned", len(result.Memories)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))

	resp := searchResponse{Memories: make([]memoryResult, 0, len(result.Memories))}
	for _, entry := range result.Memories {
		resp.Memories = append(resp.Memories, memoryResult{
			ID:             entry.Memory.ID,
			Content:        entry.Memory.Content,
			Score:          entry.Score,
			Similarity:     entry.RawSimilarity,
			Hops:           entry.Hops,
			Importance:     entry.Memory.Importance,
			AttentionCount: entry.Memory.AttentionCount,
			Timestamp:      entry.Memory.Timestamp,
		})
	}
	if req.IncludeTrace && result.Trace != nil {
		resp.TraceID = result.Trace.ID
		resp.Trace = renderTrace(result.Trace)
	}
	return c.JSON(http.StatusOK, resp)
}

func renderTrace(tr *trace.Trace) []traceEvent {
	events := tr.Events()
	rendered := make([]traceEvent, 0, len(events))
	for _, event := range events {
		rendered = append(rendered, traceEvent{
			Name:       event.Name,
			DurationMs: event.Duration().Milliseconds(),
			Metadata:   event.Metadata,
		})
	}
	return rendered
}
