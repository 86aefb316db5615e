package agent

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// UserInputRequest is handed to the host application when an imperative
// sequence needs human input. The sequence blocks on Response.
type UserInputRequest struct {
	FlowIndex string
	Prompt    string
	Response  chan string
}

// Body bundles the tool collaborators the sequence layer consumes: the
// LLM client, the working directory for filesystem tools, and the
// user-input channel serviced by the host application. The core only
// threads it through to sequences.
type Body struct {
	LLM      *openai.Client
	LLMModel string
	BaseDir  string

	userInput chan *UserInputRequest
}

// NewBody creates a Body without an LLM attached; sequences that need
// one fail with a descriptive error.
func NewBody(baseDir string) *Body {
	return &Body{
		BaseDir:   baseDir,
		userInput: make(chan *UserInputRequest),
	}
}

// WithLLM attaches an OpenAI-compatible client and model name.
func (b *Body) WithLLM(client *openai.Client, model string) *Body {
	b.LLM = client
	b.LLMModel = model
	return b
}

// Complete runs one chat completion against the attached LLM.
func (b *Body) Complete(ctx context.Context, prompt string) (string, error) {
	if b.LLM == nil {
		return "", errors.New("agent: no LLM client attached to body (see WithLLM)")
	}
	resp, err := b.LLM.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// UserInput exposes the request channel the host application services.
func (b *Body) UserInput() <-chan *UserInputRequest {
	return b.userInput
}

// RequestUserInput submits a request to the host application and blocks
// until the answer arrives, returning it, or until ctx is done, returning
// the context's error.
func (b *Body) RequestUserInput(ctx context.Context, flowIndex, prompt string) (string, error) {
	req := &UserInputRequest{
		FlowIndex: flowIndex,
		Prompt:    prompt,
		Response:  make(chan string, 1),
	}
	select {
	case b.userInput <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case answer := <-req.Response:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
