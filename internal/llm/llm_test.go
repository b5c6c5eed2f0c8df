package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerator_Request(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + "```json\\n{}\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(Options{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL})
	out, err := g.Generate(context.Background(), "make a spec")
	require.NoError(t, err)

	// raw output is returned untouched; sanitizing is the caller's job
	assert.Equal(t, "```json\n{}\n```", out)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "make a spec", got.Messages[0].Content)
	assert.InDelta(t, DefaultTemperature, got.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIGenerator(Options{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1"}).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewOpenAIGenerator(Options{Model: "m", BaseURL: srv.URL}).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "api key")

	_, err = NewOpenAIGenerator(Options{APIKey: "k", BaseURL: srv.URL}).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "model")
}

func TestOpenAIGenerator_Endpoint(t *testing.T) {
	tests := map[string]string{
		"":                                "https://api.openai.com/v1/chat/completions",
		"http://host:8000":                "http://host:8000/v1/chat/completions",
		"http://host:8000/v1/":            "http://host:8000/v1/chat/completions",
		"http://host/v1/chat/completions": "http://host/v1/chat/completions",
	}
	for base, want := range tests {
		assert.Equal(t, want, NewOpenAIGenerator(Options{BaseURL: base}).endpoint, base)
	}
}

func TestOllamaGenerator(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"{\"openapi\":\"3.0.0\"}","done":true}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(Options{Model: "codellama", BaseURL: srv.URL, Temperature: float(0.3), MaxTokens: 128})
	out, err := g.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, `{"openapi":"3.0.0"}`, out)
	assert.Equal(t, "codellama", got.Model)
	assert.Equal(t, "prompt text", got.Prompt)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.3, got.Options.Temperature, 1e-9)
	assert.Equal(t, 128, got.Options.NumPredict)
}

func TestGenerators_ZeroTemperature(t *testing.T) {
	bodies := make(chan map[string]any, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		if r.URL.Path == "/api/generate" {
			_, _ = w.Write([]byte(`{"response":"{}","done":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer srv.Close()

	opts := Options{APIKey: "k", Model: "m", BaseURL: srv.URL, Temperature: float(0)}

	_, err := NewOpenAIGenerator(opts).Generate(context.Background(), "p")
	require.NoError(t, err)
	body := <-bodies
	require.Contains(t, body, "temperature")
	assert.Equal(t, float64(0), body["temperature"])

	_, err = NewOllamaGenerator(opts).Generate(context.Background(), "p")
	require.NoError(t, err)
	body = <-bodies
	options, ok := body["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), options["temperature"])
}

func TestOptions_Temperature(t *testing.T) {
	assert.InDelta(t, DefaultTemperature, Options{}.temperature(), 1e-9)
	assert.InDelta(t, DefaultTemperature, Options{Temperature: float(-1)}.temperature(), 1e-9)
	assert.Zero(t, Options{Temperature: float(0)}.temperature())
	assert.InDelta(t, 0.7, Options{Temperature: float(0.7)}.temperature(), 1e-9)
}

func float(v float64) *float64 { return &v }

func TestOllamaGenerator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(Options{Model: "missing", BaseURL: srv.URL}).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = NewOllamaGenerator(Options{BaseURL: srv.URL}).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "model is required")
}

func TestNewGenerator_UnknownProvider(t *testing.T) {
	_, err := NewGenerator(context.Background(), Options{Provider: "bard"})
	assert.ErrorContains(t, err, "unsupported generator provider")
}

func TestLimit_NeverExceeds(t *testing.T) {
	const limit = 2
	var inFlight, peak int32
	slow := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return prompt, nil
	})

	g := Limit(slow, limit)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Generate(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestLimit_CancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	blocking := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-release
		return "", nil
	})
	g := Serialized(blocking)

	done := make(chan struct{})
	go func() {
		_, _ = g.Generate(context.Background(), "first")
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, "second")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
}

func TestWithTimeout(t *testing.T) {
	hang := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := WithTimeout(hang, 20*time.Millisecond).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timed out")

	echo := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return prompt, nil
	})
	out, err := WithTimeout(echo, 0).Generate(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, "same", out)
}
