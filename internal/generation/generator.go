package generation

import "context"

// Request is one stateless answer-generation call.
type Request struct {
	// System holds the answering instructions.
	System string
	// Prompt is the user message: retrieved context followed by the question.
	Prompt string
}

// Generator turns a prompt into a natural-language answer.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
