package v1

import (
	"context"
	"fmt"
)

// Responder produces the assistant's reply when the client does not supply
// one. Real deployments plug an LLM client in here.
type Responder interface {
	Respond(ctx context.Context, userMessage string) (string, error)
}

// MockResponder returns a canned reply. It stands in for an LLM so the
// consolidation path can be exercised without one.
type MockResponder struct{}

func (MockResponder) Respond(_ context.Context, userMessage string) (string, error) {
	return fmt.Sprintf("This is a mocked response to: '%s'", userMessage), nil
}
