package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = string(openai.SmallEmbedding3)
	DefaultLocalModel  = "local-hashing"

	// Default endpoints
	DefaultJinaBaseURL = "https://api.jina.ai/v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultCacheSize = 10000
	DefaultTimeout   = 30 * time.Second

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// ProviderOptions carries the settings shared by the remote providers
type ProviderOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	Timeout   time.Duration
	Retry     RetryConfig
	Cache     *Cache
}

func (o ProviderOptions) withDefaults(model string, dim int) ProviderOptions {
	if o.Model == "" {
		o.Model = model
	}
	if o.Dimension <= 0 {
		o.Dimension = dim
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retry.MaxRetries == 0 {
		o.Retry = DefaultRetryConfig()
	}
	return o
}

// JinaProvider implements Embedder using Jina AI API
type JinaProvider struct {
	opts       ProviderOptions
	httpClient *http.Client
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts ProviderOptions) (*JinaProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: jina api key not set", ErrNoProviderEnabled)
	}
	opts = opts.withDefaults(DefaultJinaModel, JinaDimension)
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultJinaBaseURL
	}

	return &JinaProvider{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, j, j.opts.Cache, req)
}

func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = j.opts.Model
	}

	result, missing := splitCached(j.opts.Cache, req.Texts)
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, pos := range missing {
			texts[i] = req.Texts[pos]
		}

		embeddings, err := retryWithBackoff(ctx, j.opts.Retry, func() ([]*Embedding, error) {
			return j.callAPI(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: jina: %v", ErrProviderFailed, err)
		}

		fillMissing(j.opts.Cache, req.Texts, result, missing, embeddings)
	}

	return &BatchEmbeddingResponse{
		Embeddings: result,
		Provider:   ProviderJina,
		Model:      model,
	}, nil
}

func (j *JinaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}
	if j.opts.Dimension != JinaDimension {
		reqBody["dimensions"] = j.opts.Dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(j.opts.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.opts.APIKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderJina,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (j *JinaProvider) Dimension() int {
	return j.opts.Dimension
}

func (j *JinaProvider) Provider() string {
	return ProviderJina
}

func (j *JinaProvider) Model() string {
	return j.opts.Model
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}

// OpenAIProvider implements Embedder using the OpenAI embeddings endpoint
type OpenAIProvider struct {
	opts   ProviderOptions
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI embedder. BaseURL may point at any
// OpenAI-compatible server.
func NewOpenAIProvider(opts ProviderOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	opts = opts.withDefaults(DefaultOpenAIModel, OpenAIDimension)

	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = opts.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &OpenAIProvider{
		opts:   opts,
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, o, o.opts.Cache, req)
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.opts.Model
	}

	result, missing := splitCached(o.opts.Cache, req.Texts)
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, pos := range missing {
			texts[i] = req.Texts[pos]
		}

		embeddings, err := retryWithBackoff(ctx, o.opts.Retry, func() ([]*Embedding, error) {
			return o.callAPI(ctx, texts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai: %v", ErrProviderFailed, err)
		}

		fillMissing(o.opts.Cache, req.Texts, result, missing, embeddings)
	}

	return &BatchEmbeddingResponse{
		Embeddings: result,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}
	if o.opts.Dimension != OpenAIDimension {
		req.Dimensions = o.opts.Dimension
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([]*Embedding, len(resp.Data))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = &Embedding{
			Vector:    vector,
			Dimension: len(vector),
			Provider:  ProviderOpenAI,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.opts.Dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.opts.Model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider produces deterministic feature-hashed vectors without any network call.
// Texts sharing identifiers land near each other, which is enough for offline use and tests.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder; dimension <= 0 selects LocalDimension
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashingVector(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashingVector maps identifier tokens into signed buckets and normalizes the result.
// Texts with no identifier characters fall back to a digest-derived vector.
func hashingVector(text string, dim int) []float32 {
	vector := make([]float32, dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	if len(tokens) == 0 {
		digest := sha256.Sum256([]byte(text))
		for i := 0; i < dim; i++ {
			block := sha256.Sum256(append(digest[:], byte(i>>8), byte(i)))
			vector[i] = float32(int32(binary.LittleEndian.Uint32(block[:4]))) / math.MaxInt32
		}
	}

	return NormalizeVector(vector)
}

// generateOne routes a single request through the provider's batch path
func generateOne(ctx context.Context, e Embedder, cache *Cache, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	if cache != nil {
		if emb, ok := cache.Get(ComputeHash(req.Text)); ok {
			return emb, nil
		}
	}

	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

// fillMissing places fresh embeddings at their positions and caches them
func fillMissing(cache *Cache, texts []string, result []*Embedding, missing []int, fresh []*Embedding) {
	for i, pos := range missing {
		emb := fresh[i]
		emb.Hash = ComputeHash(texts[pos])
		if cache != nil {
			cache.Set(emb.Hash, emb)
		}
		result[pos] = emb
	}
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
