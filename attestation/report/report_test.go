package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shiporacle/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"PromptFormat", "SUMMARY:\nPort closed\nConfidence: 85", 85},
		{"Bracketed", "Confidence: [64] (where X is...)", 64},
		{"ScoreOf", "This analysis has a confidence score of 82 based on history.", 82},
		{"ScoreColon", "Confidence Score: 91", 91},
		{"Percent", "We are 70% confident in this estimate.", 70},
		{"Certain", "I am 55% certain.", 55},
		{"OutOfRangeKept", "Confidence: 150", 150},
		{"NegativeKept", "Confidence: -1", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseConfidence(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := ParseConfidence("no score here, confidence is high")
		assert.ErrorIs(t, err, ErrMissingConfidence)
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := ParseConfidence("Confidence: 99999999999999999999999")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unparseable")
	})
}

func TestOllamaGenerator(t *testing.T) {
	t.Run("ChatResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/chat", r.URL.Path)
			var req ollamaChatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "qwen3:1.7b", req.Model)
			assert.False(t, req.Stream)
			if assert.Len(t, req.Messages, 2) {
				assert.Contains(t, req.Messages[1].Content, "Truck broke down near Lyon")
			}
			assert.Equal(t, 500, req.Options.NumPredict)

			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": "SUMMARY:\nTruck delay\nConfidence: 77"},
			})
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "qwen3:1.7b", 500, 0.5, srv.Client(), zap.NewNop())
		rep, err := g.Generate(context.Background(), "Truck broke down near Lyon")
		require.NoError(t, err)
		assert.Equal(t, 77, rep.ConfidenceScore)
		assert.Equal(t, "SUMMARY:\nTruck delay\nConfidence: 77", rep.Summary)
		assert.Equal(t, "qwen3:1.7b", rep.Model)
	})

	t.Run("LegacyResponseField", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"response": "Confidence: 40"})
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "m", 10, 0.1, srv.Client(), zap.NewNop())
		rep, err := g.Generate(context.Background(), "event")
		require.NoError(t, err)
		assert.Equal(t, 40, rep.ConfidenceScore)
	})

	t.Run("MissingConfidenceFails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "just prose"}})
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "m", 10, 0.1, srv.Client(), zap.NewNop())
		_, err := g.Generate(context.Background(), "event")
		assert.ErrorIs(t, err, ErrMissingConfidence)
	})

	t.Run("HTTPError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "m", 10, 0.1, srv.Client(), zap.NewNop())
		_, err := g.Generate(context.Background(), "event")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "m", 10, 0.1, srv.Client(), zap.NewNop())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := g.Generate(ctx, "event")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Check", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/show", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		g := NewOllamaGenerator(srv.URL, "qwen3:1.7b", 10, 0.1, srv.Client(), zap.NewNop())
		status := g.Check(context.Background())
		assert.True(t, status.OK)
		assert.Equal(t, http.StatusOK, status.StatusCode)
	})
}

func TestHuggingFaceGenerator(t *testing.T) {
	t.Run("ListResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models/Qwen/Qwen2.5-7B-Instruct", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode([]map[string]string{{"generated_text": "Port strike. Confidence score: 66"}})
		}))
		defer srv.Close()

		g := NewHuggingFaceGenerator(srv.URL, "Qwen/Qwen2.5-7B-Instruct", "secret", 100, 0.7, srv.Client(), zap.NewNop())
		rep, err := g.Generate(context.Background(), "port strike")
		require.NoError(t, err)
		assert.Equal(t, 66, rep.ConfidenceScore)
	})

	t.Run("ObjectResponse", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"generated_text": "Confidence: 12"})
		}))
		defer srv.Close()

		g := NewHuggingFaceGenerator(srv.URL, "m", "t", 100, 0.7, srv.Client(), zap.NewNop())
		rep, err := g.Generate(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 12, rep.ConfidenceScore)
	})

	t.Run("ModelNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		g := NewHuggingFaceGenerator(srv.URL, "missing/model", "t", 100, 0.7, srv.Client(), zap.NewNop())
		_, err := g.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model not found (404)")
	})

	t.Run("ErrorBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Model is currently loading"})
		}))
		defer srv.Close()

		g := NewHuggingFaceGenerator(srv.URL, "m", "t", 100, 0.7, srv.Client(), zap.NewNop())
		_, err := g.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "currently loading")
	})
}

func TestFixedAndDegraded(t *testing.T) {
	rep, err := Fixed{}.Generate(context.Background(), "Container held at customs")
	require.NoError(t, err)
	assert.Equal(t, MockConfidence, rep.ConfidenceScore)
	assert.Contains(t, rep.Summary, "Container held at customs")

	parsed, err := ParseConfidence(rep.Summary)
	require.NoError(t, err)
	assert.Equal(t, MockConfidence, parsed)

	degraded := Degraded("Container held at customs", 25)
	assert.True(t, degraded.Degraded)
	assert.Equal(t, 25, degraded.ConfidenceScore)
	assert.Contains(t, degraded.Summary, "Container held at customs")
}

func TestNew(t *testing.T) {
	cfg := config.GeneratorConfig{LLMType: "mock", Timeout: "1s"}
	g, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "mock", g.Model())

	cfg = config.GeneratorConfig{LLMType: "local", Timeout: "1s", LocalURL: "http://localhost:11434", LocalModel: "qwen3:1.7b"}
	g, err = New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, g)

	_, err = New(config.GeneratorConfig{LLMType: "huggingface", Timeout: "1s"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(config.GeneratorConfig{LLMType: "gpt", Timeout: "1s"}, zap.NewNop())
	assert.Error(t, err)
}
