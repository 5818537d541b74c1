// Package telegram is the delivery adapter and inbound feedback channel: a
// thin client for the Telegram bot API (sendMessage, getUpdates).
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/sunsetglow/internal/httputil"
)

const defaultBaseURL = "https://api.telegram.org"

type Client struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		client:  httputil.NewClient(),
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	Chat Chat    `json:"chat"`
	From *Sender `json:"from"`
	Text string  `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Sender struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage delivers a Markdown-formatted message to one chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	form := url.Values{
		"chat_id":    {strconv.FormatInt(chatID, 10)},
		"text":       {text},
		"parse_mode": {"Markdown"},
	}
	_, err := c.call(ctx, "sendMessage", form)
	return err
}

// GetUpdates returns inbound updates with update_id >= offset. Passing the
// last processed id plus one makes Telegram discard everything older, so a
// poll never sees a message twice.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	form := url.Values{}
	if offset > 0 {
		form.Set("offset", strconv.FormatInt(offset, 10))
	}

	result, err := c.call(ctx, "getUpdates", form)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.URL.RawQuery = form.Encode()

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: %w", method, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 1 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("%s: api error: %s", method, envelope.Description)
	}
	return envelope.Result, nil
}
