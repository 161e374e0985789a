package primer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"xquote/internal/application/port"
)

const latestPricePath = "/get_latest_price"

// Client issues GET /get_latest_price?symbol=... against the quote server.
// The response body is drained and ignored.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Prime(ctx context.Context, rawSymbol string) error {
	params := url.Values{}
	params.Set("symbol", rawSymbol)
	endpoint := c.baseURL + latestPricePath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 丢弃响应体，保证连接可复用
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("prime %s: http %d", rawSymbol, resp.StatusCode)
	}
	return nil
}

var _ port.Primer = (*Client)(nil)
