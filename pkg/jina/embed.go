package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-pipeline/internal/resilience"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// Embed computes embedding vectors for a batch of texts via the Jina
// Embeddings API. Vectors come back in input order.
func (c *httpClient) Embed(ctx context.Context, texts []string, model string) (*EmbedResponse, error) {
	if len(texts) == 0 {
		return &EmbedResponse{Model: model}, nil
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, eris.Wrap(err, "jina: marshal embed request")
	}

	// The request is rebuilt per attempt so a retry never reuses a
	// consumed body.
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*EmbedResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embedBaseURL+"/v1/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "jina: create embed request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "jina: embed request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "jina: read embed response")
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("jina: embed status %d: %s", resp.StatusCode, string(respBody)),
				resp.StatusCode,
			)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("jina: embed unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var result EmbedResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, eris.Wrap(err, "jina: unmarshal embed response")
		}
		return &result, nil
	})
}
