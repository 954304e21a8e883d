// Package v1 exposes the memory engine over a JSON HTTP API.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	apperrors "github.com/SilicateWielder/memlayer/internal/errors"
	"github.com/SilicateWielder/memlayer/internal/profile"
	"github.com/SilicateWielder/memlayer/server/consolidation"
	"github.com/SilicateWielder/memlayer/server/middleware"
	"github.com/SilicateWielder/memlayer/server/retrieval"
	"github.com/SilicateWielder/memlayer/server/stats"
	"github.com/SilicateWielder/memlayer/store"
)

// Consolidator persists one conversational turn. *consolidation.Pipeline
// satisfies it.
type Consolidator interface {
	Consolidate(ctx context.Context, req *consolidation.Request) (*consolidation.Result, error)
}

// Retriever ranks memories for a query. *retrieval.Engine satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, opts *retrieval.Options) (*retrieval.RankedResult, error)
}

// InteractionStore resolves conversation ownership and records which memories
// informed an assistant reply. *store.Store satisfies it.
type InteractionStore interface {
	GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error)
	UpdateInteraction(ctx context.Context, update *store.UpdateInteraction) error
}

// APIV1Service wires the engines into echo handlers.
type APIV1Service struct {
	Profile      *profile.Profile
	Consolidator Consolidator
	Retriever    Retriever
	Responder    Responder
	Store        InteractionStore
	Stats        *stats.Collector

	rateLimiter *middleware.RateLimiter
}

// NewAPIV1Service creates the API service. A nil responder falls back to the
// canned MockResponder.
func NewAPIV1Service(p *profile.Profile, consolidator Consolidator, retriever Retriever, responder Responder, interactions InteractionStore, collector *stats.Collector) *APIV1Service {
	if responder == nil {
		responder = MockResponder{}
	}
	return &APIV1Service{
		Profile:      p,
		Consolidator: consolidator,
		Retriever:    retriever,
		Responder:    responder,
		Store:        interactions,
		Stats:        collector,
		rateLimiter:  middleware.NewRateLimiter(10, 20),
	}
}

// Register mounts all v1 routes on the echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	echoServer.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Memory Layer API is running."})
	})
	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	group := echoServer.Group("/api/v1")
	group.Use(echomiddleware.CORS())
	group.POST("/chat", s.handleChat, s.rateLimitByUser)
	group.POST("/memories/search", s.handleSearch, s.rateLimitByUser)
	group.GET("/stats", s.handleStats)
}

func (s *APIV1Service) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Stats.Snapshot())
}

// rateLimitByUser throttles per user id. The key falls back to the remote
// address for malformed bodies.
func (s *APIV1Service) rateLimitByUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.RealIP()
		var peek struct {
			UserID string `json:"userId"`
		}
		if err := bindPeek(c, &peek); err == nil && peek.UserID != "" {
			key = peek.UserID
		}
		if !s.rateLimiter.Allow(key) {
			return c.JSON(http.StatusTooManyRequests, errorBody("RATE_LIMITED", "too many requests"))
		}
		return next(c)
	}
}

// httpStatus maps engine error codes onto HTTP statuses.
func httpStatus(err error) int {
	switch apperrors.CodeOf(err, "INTERNAL") {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeEmbeddingUnavailable, apperrors.ErrCodeTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"code": code, "message": message}
}

func errorResponse(c echo.Context, err error) error {
	code := apperrors.CodeOf(err, "INTERNAL")
	return c.JSON(httpStatus(err), errorBody(string(code), err.Error()))
}
