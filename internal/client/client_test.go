package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/provider"
)

type fakeModel struct {
	mu        sync.Mutex
	resp      *llms.ContentResponse
	err       error
	lastModel string
	lastText  string
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastModel = o.Model
	if len(msgs) > 0 && len(msgs[0].Parts) > 0 {
		if tp, ok := msgs[0].Parts[0].(llms.TextContent); ok {
			f.lastText = tp.Text
		}
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

func textResponse(text string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, GenerationInfo: info}}}
}

func TestFactoryNewIsLazy(t *testing.T) {
	var built atomic.Int32
	f := NewFactory(provider.Config{API: provider.APIGoogleAI}, WithModelFunc(
		func(context.Context, provider.Config) (llms.Model, error) {
			built.Add(1)
			return nil, errors.New("bad key")
		}))

	_ = f.New(auth.Credentials{CredentialAPIKey: "invalid"})
	if built.Load() != 0 {
		t.Fatalf("backend built %d times before first use, want 0", built.Load())
	}
}

func TestCompletePassesCredentialsAndModel(t *testing.T) {
	fake := &fakeModel{resp: textResponse("one two three", map[string]any{"total_tokens": int32(9)})}
	var gotCfg provider.Config
	start := time.Unix(1700000000, 0)
	ticks := 0
	f := NewFactory(provider.Config{API: provider.APIGoogleAI, APIKey: "ignored"},
		WithModelFunc(func(_ context.Context, cfg provider.Config) (llms.Model, error) {
			gotCfg = cfg
			return fake, nil
		}),
		WithClock(func() time.Time {
			ticks++
			return start.Add(time.Duration(ticks) * 250 * time.Millisecond)
		}),
	)

	c := f.New(auth.Credentials{CredentialAPIKey: "sk-live"})
	comp, err := c.Complete(context.Background(), "gemini-pro", "count these words")
	if err != nil {
		t.Fatal(err)
	}
	if gotCfg.APIKey != "sk-live" {
		t.Errorf("APIKey = %q, want sk-live", gotCfg.APIKey)
	}
	if fake.lastModel != "gemini-pro" {
		t.Errorf("model = %q", fake.lastModel)
	}
	if fake.lastText != "count these words" {
		t.Errorf("prompt = %q", fake.lastText)
	}
	if comp.Text != "one two three" {
		t.Errorf("Text = %q", comp.Text)
	}
	if comp.Usage.TotalTokens != 9 {
		t.Errorf("TotalTokens = %d", comp.Usage.TotalTokens)
	}
	if comp.Elapsed != 250*time.Millisecond {
		t.Errorf("Elapsed = %s", comp.Elapsed)
	}
}

func TestCompleteBuildsBackendOnce(t *testing.T) {
	var built atomic.Int32
	fake := &fakeModel{resp: textResponse("ok", nil)}
	f := NewFactory(provider.Config{}, WithModelFunc(func(context.Context, provider.Config) (llms.Model, error) {
		built.Add(1)
		return fake, nil
	}))
	c := f.New(auth.Credentials{CredentialAPIKey: "k"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Complete(context.Background(), "m", "p"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if built.Load() != 1 {
		t.Errorf("backend built %d times, want 1", built.Load())
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name     string
		model    *fakeModel
		buildErr error
		want     string
	}{
		{name: "build failure", buildErr: errors.New("no key"), want: "create client"},
		{name: "api failure", model: &fakeModel{err: errors.New("quota")}, want: "error response from model"},
		{name: "nil response", model: &fakeModel{}, want: "malformed response"},
		{name: "no choices", model: &fakeModel{resp: &llms.ContentResponse{}}, want: "malformed response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(provider.Config{}, WithModelFunc(func(context.Context, provider.Config) (llms.Model, error) {
				if tt.buildErr != nil {
					return nil, tt.buildErr
				}
				return tt.model, nil
			}))
			_, err := f.New(auth.Credentials{}).Complete(context.Background(), "m", "p")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestCompleteRetriesFailedBackendBuild(t *testing.T) {
	var calls atomic.Int32
	fake := &fakeModel{resp: textResponse("ok", nil)}
	f := NewFactory(provider.Config{}, WithModelFunc(func(context.Context, provider.Config) (llms.Model, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return fake, nil
	}))
	c := f.New(auth.Credentials{CredentialAPIKey: "k"})

	if _, err := c.Complete(context.Background(), "m", "p"); err == nil || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("first Complete err = %v, want build failure", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), "m", "p"); err != nil {
			t.Fatalf("Complete after failed build: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("backend built %d times, want 2", calls.Load())
	}
}
