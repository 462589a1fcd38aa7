package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultCallTimeout bounds one gateway round trip. Function uploads can
// carry whole archives, so this runs higher than a typical API timeout.
const defaultCallTimeout = 2 * time.Minute

// NewHTTPTransport returns a Transport that posts each call as JSON to a
// provider gateway endpoint. The gateway answers with an HTTP status the
// adapter classifies and, for list verbs, a body of the form
// {"names": [...]}. Pass a nil client to use a default with a timeout.
func NewHTTPTransport(endpoint string, client *http.Client) Transport {
	if client == nil {
		client = &http.Client{Timeout: defaultCallTimeout}
	}

	return func(ctx context.Context, call Call) (*Result, error) {
		payload, err := json.Marshal(call)
		if err != nil {
			return nil, fmt.Errorf("failed to encode call: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		result := &Result{StatusCode: resp.StatusCode, Body: body}
		if call.Verb == VerbList && len(body) > 0 {
			var listing struct {
				Names []string `json:"names"`
			}
			if err := json.Unmarshal(body, &listing); err == nil {
				result.Names = listing.Names
			}
		}
		return result, nil
	}
}
