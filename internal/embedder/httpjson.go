package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// postJSON posts body to url and decodes the reply into out. A non-2xx
// reply is not an error here: out is still decoded on a best-effort basis so
// the caller can pull the backend's message into statusError.
func postJSON(ctx context.Context, client *http.Client, backend, url string, header http.Header, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("%s embedder: marshal request: %w", backend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%s embedder: create request: %w", backend, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, requestFailed(backend, err)
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, nil
	}
	if decodeErr != nil {
		return resp.StatusCode, requestFailed(backend, fmt.Errorf("decode response: %w", decodeErr))
	}
	return resp.StatusCode, nil
}
