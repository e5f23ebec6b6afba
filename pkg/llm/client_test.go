package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ledgerlens/ledgerlens/pkg/cache"
	"github.com/ledgerlens/ledgerlens/pkg/models"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []openai.ChatCompletionRequest
	respond func(model string) (string, error)
}

func (f *fakeProvider) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	content, err := f.respond(req.Model)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Model
	}
	return out
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
	putErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]string{}}
}

func (m *memoryCache) Get(_ context.Context, fp string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, &cache.Error{Op: "get", Err: m.getErr}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[fp]
	return v, ok, nil
}

func (m *memoryCache) Put(_ context.Context, fp, _, response string, _ time.Duration) error {
	if m.putErr != nil {
		return &cache.Error{Op: "put", Err: m.putErr}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fp] = response
	return nil
}

func (m *memoryCache) Stats(context.Context) (models.CacheStats, error) {
	return models.CacheStats{Entries: int64(len(m.entries))}, nil
}

func (m *memoryCache) Clear(context.Context, bool) error { return nil }
func (m *memoryCache) Close() error                      { return nil }

type recorder struct {
	mu   sync.Mutex
	recs []models.UsageRecord
}

func (r *recorder) Record(_ context.Context, rec models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

func testConfig() Config {
	return Config{
		APIKey:        "test-key",
		PrimaryModel:  "gpt-4",
		FallbackModel: "gpt-3.5-turbo",
	}
}

var testMessages = []models.ChatMessage{
	{Role: models.RoleSystem, Content: "Eres un analista financiero."},
	{Role: models.RoleUser, Content: "Resume el trimestre."},
}

func TestCompleteMissThenHit(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "resumen", nil }}
	store := newMemoryCache()
	client := NewClient(testConfig(), WithProvider(provider), WithCache(store))

	got, err := client.Complete(context.Background(), testMessages, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if got != "resumen" {
		t.Fatalf("unexpected response %q", got)
	}
	if len(provider.models()) != 1 {
		t.Fatalf("expected one call on miss, got %d", len(provider.models()))
	}
	if _, ok := store.entries[cache.Fingerprint(testMessages)]; !ok {
		t.Fatal("expected response to be cached under the message fingerprint")
	}

	got, err = client.Complete(context.Background(), testMessages, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if got != "resumen" {
		t.Errorf("unexpected cached response %q", got)
	}
	if len(provider.models()) != 1 {
		t.Errorf("expected no call on hit, got %d calls", len(provider.models()))
	}
}

func TestCompleteSendsRequestParameters(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "ok", nil }}
	client := NewClient(testConfig(), WithProvider(provider))

	if _, err := client.Complete(context.Background(), testMessages, 0.7); err != nil {
		t.Fatal(err)
	}
	req := provider.calls[0]
	if req.Model != "gpt-4" {
		t.Errorf("expected primary model, got %s", req.Model)
	}
	if req.MaxTokens != 2000 {
		t.Errorf("expected max_tokens 2000, got %d", req.MaxTokens)
	}
	if req.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "Resume el trimestre." {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestFallbackIsStickyAfterPrimaryFailure(t *testing.T) {
	provider := &fakeProvider{respond: func(model string) (string, error) {
		if model == "gpt-4" {
			return "", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}
		}
		return "respuesta", nil
	}}
	sleeper := &sleepRecorder{}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(sleeper.sleep))

	got, err := client.Complete(context.Background(), testMessages, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if got != "respuesta" {
		t.Errorf("unexpected response %q", got)
	}
	calls := provider.models()
	if len(calls) != 2 || calls[0] != "gpt-4" || calls[1] != "gpt-3.5-turbo" {
		t.Fatalf("expected primary then fallback, got %v", calls)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != time.Second {
		t.Errorf("expected a single 1s backoff, got %v", sleeper.delays)
	}
	if client.Model() != "gpt-3.5-turbo" {
		t.Errorf("expected current model to stay on fallback, got %s", client.Model())
	}

	other := []models.ChatMessage{{Role: models.RoleUser, Content: "otra pregunta"}}
	if _, err := client.Complete(context.Background(), other, 0.7); err != nil {
		t.Fatal(err)
	}
	calls = provider.models()
	if len(calls) != 3 || calls[2] != "gpt-3.5-turbo" {
		t.Errorf("expected next call to start on fallback, got %v", calls)
	}
}

func TestFallbackFailurePropagates(t *testing.T) {
	provider := &fakeProvider{respond: func(model string) (string, error) {
		return "", &openai.APIError{HTTPStatusCode: 500, Message: "boom " + model}
	}}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(func(time.Duration) {}))

	_, err := client.Complete(context.Background(), testMessages, 0.7)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Model != "gpt-3.5-turbo" {
		t.Errorf("expected fallback model in error, got %+v", perr)
	}
	if n := len(provider.models()); n != 2 {
		t.Errorf("expected exactly two calls, got %d", n)
	}

	// Already on the fallback: no further retry.
	_, err = client.Complete(context.Background(), testMessages, 0.7)
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(provider.models()); n != 3 {
		t.Errorf("expected one more call, got %d total", n)
	}
}

func TestAuthenticationErrorIsFatal(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) {
		return "", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}
	}}
	sleeper := &sleepRecorder{}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(sleeper.sleep))

	_, err := client.Complete(context.Background(), testMessages, 0.7)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if n := len(provider.models()); n != 1 {
		t.Errorf("expected no retry, got %d calls", n)
	}
	if len(sleeper.delays) != 0 {
		t.Error("expected no backoff on authentication failure")
	}
	if client.Model() != "gpt-4" {
		t.Errorf("expected to stay on primary, got %s", client.Model())
	}
}

func TestMissingAPIKey(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "ok", nil }}
	cfg := testConfig()
	cfg.APIKey = "  "
	client := NewClient(cfg, WithProvider(provider))

	_, err := client.Complete(context.Background(), testMessages, 0.7)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if n := len(provider.models()); n != 0 {
		t.Errorf("expected no provider calls, got %d", n)
	}
}

func TestQuotaExceededOnBothModels(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) {
		return "", &openai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota", Message: "quota"}
	}}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(func(time.Duration) {}))

	_, err := client.Complete(context.Background(), testMessages, 0.7)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if n := len(provider.models()); n != 2 {
		t.Errorf("expected fallback attempt, got %d calls", n)
	}
}

func TestCacheFailureIsBypassed(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "fresh", nil }}
	store := newMemoryCache()
	store.getErr = errors.New("disk full")
	store.putErr = errors.New("disk full")
	client := NewClient(testConfig(), WithProvider(provider), WithCache(store))

	got, err := client.Complete(context.Background(), testMessages, 0.7)
	if err != nil {
		t.Fatalf("expected cache failure to be bypassed, got %v", err)
	}
	if got != "fresh" {
		t.Errorf("unexpected response %q", got)
	}
	if n := len(provider.models()); n != 1 {
		t.Errorf("expected one provider call, got %d", n)
	}
}

func TestEmptyCompletionIsRejected(t *testing.T) {
	provider := &fakeProvider{respond: func(model string) (string, error) {
		if model == "gpt-4" {
			return "   ", nil
		}
		return "ok", nil
	}}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(func(time.Duration) {}))

	got, err := client.Complete(context.Background(), testMessages, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("expected fallback answer, got %q", got)
	}
}

type denyBudget struct{ model string }

func (d denyBudget) Check(_ context.Context, model string) error {
	if model == d.model {
		return errors.New("budget exceeded")
	}
	return nil
}

func TestBudgetExhaustionFallsBack(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "ok", nil }}
	client := NewClient(testConfig(),
		WithProvider(provider),
		WithBudget(denyBudget{model: "gpt-4"}),
		WithSleeper(func(time.Duration) {}),
	)

	if _, err := client.Complete(context.Background(), testMessages, 0.7); err != nil {
		t.Fatal(err)
	}
	calls := provider.models()
	if len(calls) != 1 || calls[0] != "gpt-3.5-turbo" {
		t.Errorf("expected only the fallback to be called, got %v", calls)
	}
}

func TestUsageIsRecorded(t *testing.T) {
	provider := &fakeProvider{respond: func(string) (string, error) { return "ok", nil }}
	rec := &recorder{}
	client := NewClient(testConfig(), WithProvider(provider), WithCache(newMemoryCache()), WithUsageRecorder(rec))

	for range 2 {
		if _, err := client.Complete(context.Background(), testMessages, 0.7); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.recs) != 2 {
		t.Fatalf("expected 2 usage records, got %d", len(rec.recs))
	}
	if rec.recs[0].TotalTokens != 15 || rec.recs[0].Cached {
		t.Errorf("unexpected first record: %+v", rec.recs[0])
	}
	if !rec.recs[1].Cached || rec.recs[1].TotalTokens != 0 {
		t.Errorf("expected cached record, got %+v", rec.recs[1])
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{respond: func(string) (string, error) {
		return "", &openai.APIError{HTTPStatusCode: 500, Message: "boom"}
	}}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(func(time.Duration) { cancel() }))

	_, err := client.Complete(ctx, testMessages, 0.7)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if n := len(provider.models()); n != 1 {
		t.Errorf("expected no retry after cancellation, got %d calls", n)
	}
}

func TestContextCancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{respond: func(string) (string, error) {
		cancel()
		return "", fmt.Errorf("read tcp: %w", context.Canceled)
	}}
	client := NewClient(testConfig(), WithProvider(provider), WithSleeper(func(time.Duration) {}))

	_, err := client.Complete(ctx, testMessages, 0.7)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	for _, kind := range []error{ErrTransient, ErrAuthentication, ErrQuotaExceeded, ErrRejected} {
		if errors.Is(err, kind) {
			t.Errorf("cancellation must not match %v", kind)
		}
	}
	if n := len(provider.models()); n != 1 {
		t.Errorf("expected a single call, got %d", n)
	}
}

func TestOpenAICompatibleServer(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		seen = append(seen, req.Model)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if req.Model == "gpt-4" {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"upstream unavailable","type":"server_error"}}`)
			return
		}
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":%q,
			"choices":[{"index":0,"message":{"role":"assistant","content":"hola"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`, req.Model)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BaseURL = srv.URL + "/v1"
	client := NewClient(cfg, WithSleeper(func(time.Duration) {}))

	got, err := client.Complete(context.Background(), testMessages, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hola" {
		t.Errorf("unexpected response %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "gpt-4" || seen[1] != "gpt-3.5-turbo" {
		t.Errorf("unexpected call sequence %v", seen)
	}
}

func TestOpenAICompatibleServerUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.BaseURL = srv.URL + "/v1"
	client := NewClient(cfg, WithSleeper(func(time.Duration) {}))

	_, err := client.Complete(context.Background(), testMessages, 0.7)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401 on error, got %+v", perr)
	}
}
