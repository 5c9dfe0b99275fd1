package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"
)

// DeliveryError is returned when a channel answers with a non-2xx status.
type DeliveryError struct {
	Sender     string
	Status     int
	Detail     string
	RetryAfter time.Duration
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d: %s", e.Sender, e.Status, e.Detail)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// postJSON sends payload to url and returns the response for status
// inspection. The caller closes the body.
func postJSON(ctx context.Context, client *http.Client, sender, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", sender, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", sender, err)
	}
	return resp, nil
}

// readDetail returns at most 1 KiB of an error response body.
func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return string(b)
}

// retryAfterHeader parses a Retry-After header given in seconds.
func retryAfterHeader(h http.Header) time.Duration {
	secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// truncate shortens s to at most limit runes, marking the cut with an
// ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
