// Package google calls the public Google Translate web endpoint.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"medrag/internal/domain"
)

const (
	defaultBaseURL = "https://translate.googleapis.com"
	// MaxTextLength is the longest input the endpoint accepts in one call.
	MaxTextLength = 5000
)

var (
	ErrTextTooLong = errors.New("text exceeds translation length limit")
	ErrBadResponse = errors.New("unexpected translation response")
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements domain.Translator.
type Client struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	t := cfg.Timeout
	if t == 0 {
		t = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: t},
		maxRetries: 3,
		baseDelay:  300 * time.Millisecond,
	}
}

// Translate converts text from source to target. source may be "auto".
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", fmt.Errorf("%w: %d characters", ErrTextTooLong, utf8.RuneCountInString(text))
	}
	if source == "" {
		source = domain.LangAuto
	}
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", source)
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)
	endpoint := c.baseURL + "/translate_a/single?" + q.Encode()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if err := sleepCtx(ctx, c.retryDelay(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("google translate: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			if attempt == c.maxRetries {
				return "", fmt.Errorf("google translate failed: %s", resp.Status)
			}
			// Respect Retry-After if provided
			delay := c.retryDelay(attempt)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
				delay = time.Duration(secs) * time.Second
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return "", err
			}
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("google translate failed: %s", resp.Status)
		}
		if err != nil {
			return "", fmt.Errorf("read translation: %w", err)
		}
		return parseResponse(payload)
	}
	return "", fmt.Errorf("google translate failed after %d retries", c.maxRetries)
}

// parseResponse joins the translated segments of a response shaped like
// [[["translated","source",...],...],null,"en",...].
func parseResponse(payload []byte) (string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(raw) == 0 {
		return "", ErrBadResponse
	}
	var segments [][]any
	if err := json.Unmarshal(raw[0], &segments); err != nil {
		return "", fmt.Errorf("%w: segments: %v", ErrBadResponse, err)
	}
	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			b.WriteString(s)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no translated text", ErrBadResponse)
	}
	return b.String(), nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.baseDelay << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
