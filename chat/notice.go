package chat

import (
	"errors"
	"fmt"

	"github.com/dylangamachefl/portfolio-website-v3/retry"
)

const (
	// FallbackReply is what Send returns when the endpoint cannot be reached.
	FallbackReply = "I'm having trouble connecting right now. Please try again later."

	ConnectionErrorNotice = "⚠️ **Connection Error**\n\nI couldn't connect to the AI service. Please try again."
	PartialResponseNotice = "⚠️ **Partial Response**\n\nThe connection was interrupted. Please try asking again."

	rateLimitedNotice      = "⚠️ **Rate Limit Reached**\n\nThe AI service is receiving too many requests right now. Please wait a moment and try again."
	connectionFailedNotice = "⚠️ **Connection Failed**\n\nI couldn't reach the AI service after several attempts. Please check your connection and try again."
	unexpectedErrorNotice  = "⚠️ **Unexpected Error**\n\nSomething went wrong while contacting the AI service. Please try again."
)

// noticeMarker prefixes every diagnostic the transcript shows.
const noticeMarker = "⚠️"

// diagnostic turns a failed stream open into the single chunk shown in
// place of an answer.
func diagnostic(err error, p retry.Policy) string {
	var f *retry.Failure
	if !errors.As(err, &f) || !f.Exhausted {
		return unexpectedErrorNotice
	}
	switch retry.Classify(f.Err) {
	case retry.Overloaded:
		return fmt.Sprintf("⚠️ **Service Overloaded**\n\nThe AI service is under heavy load. I tried %d times over %s without getting through. Please try again in a few moments.",
			f.Attempts(), retry.FormatElapsed(p.TotalBackoff(f.Attempt)))
	case retry.RateLimited:
		return rateLimitedNotice
	default:
		return connectionFailedNotice
	}
}
