package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultModel = "text-embedding-3-small"
	maxRetries   = 3
	initialDelay = time.Second
)

// OpenAIClient talks to an OpenAI-compatible embeddings endpoint.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	enabled  bool
}

// NewOpenAIClient builds the client. With an empty endpoint or key every
// call returns ErrUnavailable.
func NewOpenAIClient(endpoint, apiKey, model string, client *http.Client) *OpenAIClient {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   client,
		enabled:  endpoint != "" && apiKey != "",
	}
}

// Enabled reports whether the client was constructed with credentials.
func (c *OpenAIClient) Enabled() bool { return c.enabled }

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type embedError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedQuery fingerprints a single query. Retries with exponential backoff
// on rate limits and server errors.
func (c *OpenAIClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if !c.enabled {
		return nil, ErrUnavailable
	}
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	body, err := json.Marshal(embedRequest{Input: []string{query}, Model: c.model})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr embedError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("embeddings api (%d): %s", resp.StatusCode, apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("embeddings api (%d): %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var out embedResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("decode embeddings response: %w", err)
		}
		if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return out.Data[0].Embedding, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}
