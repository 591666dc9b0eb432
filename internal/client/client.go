// Package client provides the per-call API client steps use to talk to the
// language model, and the factory that builds one from call credentials.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/provider"
	"github.com/opentalon/geminicog/pkg/cog"
)

// CredentialAPIKey is the key of the API key credential field.
const CredentialAPIKey = "apiKey"

// AuthFields are the credentials the host must pass with every call.
var AuthFields = []auth.Field{
	{
		Key:         CredentialAPIKey,
		Type:        cog.FieldTypeString,
		Description: "API Key",
		Help:        "An API key for the Gemini API, created in Google AI Studio.",
	},
}

// Completion is the typed result of one completion call.
type Completion struct {
	Model   string
	Prompt  string
	Text    string
	Usage   provider.Usage
	Elapsed time.Duration
	Created time.Time
}

// Completer is the capability steps need from a client.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (*Completion, error)
}

// ModelFunc builds the backend model. A Client calls it until it succeeds
// once and reuses that model afterwards.
type ModelFunc func(ctx context.Context, cfg provider.Config) (llms.Model, error)

// Client is the ClientHandle for one RPC call. It is safe for concurrent
// use by every step dispatched within that call.
type Client struct {
	cfg      provider.Config
	newModel ModelFunc
	now      func() time.Time

	mu    sync.Mutex
	model llms.Model
}

// backend returns the cached model, building it on first use. A failed
// build is not cached so a later step can retry.
func (c *Client) backend(ctx context.Context) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		return c.model, nil
	}
	// The backend outlives the request that happened to build it.
	m, err := c.newModel(context.WithoutCancel(ctx), c.cfg)
	if err != nil {
		return nil, err
	}
	c.model = m
	return m, nil
}

// Complete sends prompt to model and returns the first choice.
func (c *Client) Complete(ctx context.Context, model, prompt string) (*Completion, error) {
	start := c.now()
	m, err := c.backend(ctx)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	resp, err := m.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("error response from model %s: %w", model, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("malformed response from model %s: no choices", model)
	}
	choice := resp.Choices[0]
	end := c.now()

	return &Completion{
		Model:   model,
		Prompt:  prompt,
		Text:    choice.Content,
		Usage:   provider.UsageFromGenerationInfo(choice.GenerationInfo),
		Elapsed: end.Sub(start),
		Created: end,
	}, nil
}
