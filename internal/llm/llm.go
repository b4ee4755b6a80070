package llm

import "context"

// Client sends one user query to the upstream chat API.
// Implementations never return an error: every failure is reported as a
// non-successful Outcome.
type Client interface {
	Send(ctx context.Context, q Query) Outcome
}

// Localizer turns a failure category into the sentence shown to the user.
type Localizer interface {
	Message(c Category, reason string) string
}

// Query is a single user turn.
type Query struct {
	Text string
	// ConversationID is the upstream conversation token; empty starts a new conversation.
	ConversationID string
}

// Category classifies a failed query for retry decisions and user messaging.
type Category string

const (
	CategoryOverloaded    Category = "overloaded"
	CategoryQuotaExceeded Category = "quota_exceeded"
	CategoryRateLimited   Category = "rate_limited"
	CategoryTimeout       Category = "timeout"
	CategoryGatewayError  Category = "gateway_error"
	CategoryParseError    Category = "parse_error"
	CategoryUnknown       Category = "unknown"
)

// Categories lists every Category in a stable order.
var Categories = []Category{
	CategoryOverloaded,
	CategoryQuotaExceeded,
	CategoryRateLimited,
	CategoryTimeout,
	CategoryGatewayError,
	CategoryParseError,
	CategoryUnknown,
}

// Outcome is the terminal result of Send. Exactly one of Answer (when
// Success) or Category (when !Success) is meaningful.
type Outcome struct {
	Success        bool
	Answer         string
	ConversationID string

	Category    Category
	UserMessage string
	// Reason is the diagnostic text behind the failure, e.g. "gateway timeout".
	Reason string
	// Details is the decoded upstream response body, if any.
	Details string

	Attempts int
}

// Succeeded builds a successful Outcome.
func Succeeded(answer, conversationID string, attempts int) Outcome {
	return Outcome{Success: true, Answer: answer, ConversationID: conversationID, Attempts: attempts}
}

// Failed builds a failed Outcome. UserMessage is filled in by the client.
func Failed(c Category, reason, details string, attempts int) Outcome {
	return Outcome{Category: c, Reason: reason, Details: details, Attempts: attempts}
}
