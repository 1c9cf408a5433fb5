package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

type fakeModels struct {
	mu      sync.Mutex
	queue   []fakeResponse
	prompts []string
	configs []*genai.GenerateContentConfig
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	for _, c := range contents {
		for _, p := range c.Parts {
			f.prompts = append(f.prompts, p.Text)
		}
	}
	f.configs = append(f.configs, config)
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.resp, res.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func noWait(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	original := wait
	wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { wait = original })
	return &waits
}

func TestGeneratorRetriesOnTemporaryError(t *testing.T) {
	waits := noWait(t)

	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"})
	models.enqueue(textResponse(`{"scores": {}}`), nil)

	gen := newGenerator(models, "", 3)
	out, err := gen.GenerateContent(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"scores": {}}` {
		t.Fatalf("unexpected output %q", out)
	}
	if len(*waits) != 1 {
		t.Fatalf("expected one backoff wait, got %d", len(*waits))
	}
	if gen.Model() != defaultModel {
		t.Fatalf("expected default model, got %q", gen.Model())
	}
	if models.configs[0].ResponseMIMEType != "application/json" {
		t.Fatalf("expected json response mime type")
	}
}

func TestGeneratorStopsOnPermanentError(t *testing.T) {
	waits := noWait(t)

	models := &fakeModels{}
	models.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	_, err := newGenerator(models, "m", 3).GenerateContent(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(*waits) != 0 {
		t.Fatalf("expected no retries, got %d", len(*waits))
	}
}

func TestGeneratorGivesUpAfterMaxRetries(t *testing.T) {
	noWait(t)

	models := &fakeModels{}
	for range 2 {
		models.enqueue(nil, genai.APIError{Code: http.StatusServiceUnavailable})
	}

	_, err := newGenerator(models, "m", 2).GenerateContent(context.Background(), "prompt")
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestGeneratorRejectsEmptyInput(t *testing.T) {
	models := &fakeModels{}
	models.enqueue(textResponse("   "), nil)
	gen := newGenerator(models, "m", 1)

	if _, err := gen.GenerateContent(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
	if _, err := gen.GenerateContent(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected error for empty response")
	}
}
