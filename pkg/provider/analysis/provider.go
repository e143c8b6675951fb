// Package analysis defines the Provider interface for post-call transcript
// analysis backends.
//
// An analysis provider takes a finished call transcript plus the user's
// free-form interpretation guidelines and produces a markdown report. The
// prompt construction is shared across backends so that swapping providers
// never changes what the model is asked.
package analysis

import (
	"context"
	"fmt"
)

// Request carries everything a backend needs to analyze one call.
type Request struct {
	// Transcript is the full space-joined call transcript.
	Transcript string

	// Guidelines is the user's free-form instruction on how to interpret
	// the call.
	Guidelines string

	// Model optionally overrides the backend's default model.
	Model string
}

// Provider is the abstraction over any analysis backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Analyze produces a markdown analysis of the request's transcript.
	Analyze(ctx context.Context, req Request) (string, error)
}

// SystemPrompt is the fixed instruction shared by every backend.
const SystemPrompt = `You are a call analysis assistant. Analyze the provided call transcript
based on the user's interpretation guidelines. Provide:
1. A brief summary of the call
2. Key points and action items
3. Sentiment analysis
4. Any notable patterns or concerns

Format your response in clear sections with markdown formatting.`

// UserPrompt renders the per-request message shared by every backend.
func UserPrompt(req Request) string {
	return fmt.Sprintf(`## User's Interpretation Guidelines
%s

## Call Transcript
%s

Please analyze this call according to the interpretation guidelines provided.`, req.Guidelines, req.Transcript)
}
