package marketplace

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const userAgent = "pricewatch/1.0"

// doGET performs a GET with the shared headers and returns the body.
// Non-2xx statuses map to ErrUpstream; transport failures pass through
// for the fleet to classify.
func doGET(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http status %d", ErrUpstream, resp.StatusCode)
	}
	return body, nil
}
