package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend encodes each text's length into a vector of dims floats.
type fakeBackend struct {
	dims    int
	failOn  string
	calls   atomic.Int32
	mu      sync.Mutex
	batches [][]string
	// override returns a custom result for a batch when set.
	override func(batch []string) ([][]float32, error)
}

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.override != nil {
		return f.override(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == f.failOn {
			return nil, fmt.Errorf("backend exploded on %q", t)
		}
		v := make([]float32, f.dims)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%0*d", i+1, 0)
	}
	return out
}

func TestGateway_PreservesOrderAcrossBatches(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{dims: 4}
	g := NewGateway(backend, GatewayConfig{BatchSize: 3, Concurrency: 4})

	in := texts(10)
	vecs, err := g.Embed(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, vecs, len(in))
	for i, v := range vecs {
		assert.Equal(t, float32(len(in[i])), v[0], "vector %d out of order", i)
	}
	assert.EqualValues(t, 4, backend.calls.Load(), "10 texts in batches of 3")
	assert.Equal(t, 4, g.Dimensions(), "dimensions learned from first response")
}

func TestGateway_EmptyInput(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{dims: 2}
	g := NewGateway(backend, GatewayConfig{})

	vecs, err := g.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, backend.calls.Load())
}

func TestGateway_BackendErrorWrapped(t *testing.T) {
	t.Parallel()
	in := texts(5)
	backend := &fakeBackend{dims: 2, failOn: in[3]}
	g := NewGateway(backend, GatewayConfig{BatchSize: 2})

	vecs, err := g.Embed(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, err.Error(), "backend exploded")
	assert.Nil(t, vecs, "no partial result on failure")
}

func TestGateway_DimensionMismatch(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{dims: 8}
	g := NewGateway(backend, GatewayConfig{Dimensions: 4})

	_, err := g.Embed(context.Background(), texts(2))
	require.ErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestGateway_CountMismatch(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{override: func(batch []string) ([][]float32, error) {
		return [][]float32{{1, 2}}, nil
	}}
	g := NewGateway(backend, GatewayConfig{})

	_, err := g.Embed(context.Background(), texts(3))
	require.ErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, err.Error(), "returned 1 vectors for 3 texts")
}

func TestGateway_EmptyVectorRejected(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{override: func(batch []string) ([][]float32, error) {
		return make([][]float32, len(batch)), nil
	}}
	g := NewGateway(backend, GatewayConfig{})

	_, err := g.Embed(context.Background(), texts(1))
	require.ErrorIs(t, err, ErrEmbedding)
}

func TestGateway_EmbedQuery(t *testing.T) {
	t.Parallel()
	g := NewGateway(&fakeBackend{dims: 3}, GatewayConfig{})

	v, err := g.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0}, v)
}

func TestGateway_CancelledContext(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{override: func(batch []string) ([][]float32, error) {
		return nil, context.Canceled
	}}
	g := NewGateway(backend, GatewayConfig{RPS: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Embed(ctx, texts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmbedding))
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	assert.Equal(t, 768, DefaultDimensions("ollama"))
	assert.Equal(t, 1536, DefaultDimensions("openai"))

	t.Setenv("EMBEDDING_DIMENSIONS", "1024")
	assert.Equal(t, 1024, DefaultDimensions("ollama"))
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, e Embedder)
	}{
		{
			name: "ollama default",
			env:  map[string]string{"EMBEDDING_PROVIDER": "", "MODEL_PROVIDER": ""},
			check: func(t *testing.T, e Embedder) {
				o, ok := e.(*OllamaEmbedder)
				require.True(t, ok)
				assert.Equal(t, "http://localhost:11434", o.host)
				assert.Equal(t, defaultOllamaModel, o.model)
			},
		},
		{
			name: "inherits model provider and key",
			env: map[string]string{
				"EMBEDDING_PROVIDER": "", "MODEL_PROVIDER": "openai",
				"EMBEDDING_API_KEY": "", "MODEL_API_KEY": "sk-test",
			},
			check: func(t *testing.T, e Embedder) {
				o, ok := e.(*OpenAIEmbedder)
				require.True(t, ok)
				assert.Equal(t, "sk-test", o.apiKey)
				assert.False(t, o.azure)
			},
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EMBEDDING_PROVIDER": "openai", "EMBEDDING_API_KEY": "", "MODEL_API_KEY": ""},
			wantErr: "requires EMBEDDING_API_KEY",
		},
		{
			name: "azure without endpoint",
			env: map[string]string{
				"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k",
				"EMBEDDING_ENDPOINT": "", "MODEL_BASE_URL": "",
			},
			wantErr: "requires EMBEDDING_ENDPOINT",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"EMBEDDING_PROVIDER": "bogus"},
			wantErr: "unknown backend",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			e, err := NewFromEnv()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, e)
		})
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	assert.True(t, looksLikeChatModel("gpt-4o-mini"))
	assert.True(t, looksLikeChatModel("Llama3.1:8b"))
	assert.False(t, looksLikeChatModel("bge-m3"))
	assert.False(t, looksLikeChatModel("text-embedding-3-small"))
}
