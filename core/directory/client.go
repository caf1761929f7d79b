package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/session"
)

var (
	ErrUnavailable = errors.New("directory unavailable")
	ErrSendFailed  = errors.New("message send rejected")
)

type (
	// Contact is a person the current user may message.
	Contact struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Role  string `json:"role"`
		Email string `json:"email"`
	}

	// HistoryItem is one previously exchanged message as returned by the
	// history endpoint.
	HistoryItem struct {
		From string    `json:"from"`
		Body string    `json:"message"`
		Date time.Time `json:"date"`
		Read bool      `json:"read"`
	}

	// SendRequest is the payload of POST /messages/send.
	SendRequest struct {
		To        string    `json:"to"`
		Body      string    `json:"message"`
		Subject   string    `json:"subject,omitempty"`
		From      string    `json:"from"`
		Timestamp time.Time `json:"timestamp"`
		// ClientMsgID correlates the server echo with the optimistic entry.
		ClientMsgID string `json:"clientMsgId,omitempty"`
	}

	// Client consumes the backend's messaging endpoints. All failures are
	// returned as errors for the caller to degrade on; nothing here panics or
	// retries.
	Client struct {
		baseURL string
		http    *http.Client
		sess    session.Provider
		log     core.Logger
	}
)

func NewClient(conf *core.Config, sess session.Provider, log core.Logger) *Client {
	if log == nil {
		log = core.NopLogger{}
	}
	return &Client{
		baseURL: conf.API.BaseURL,
		http:    &http.Client{Timeout: conf.API.Timeout},
		sess:    sess,
		log:     log,
	}
}

// Contacts fetches the people the user may message. The endpoint is served
// in three shapes in the wild (bare array, {teachers: []}, {data: []}); all
// are accepted.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	body, err := c.get(ctx, "/messages/contacts")
	if err != nil {
		return nil, err
	}

	var contacts []Contact
	if err := json.Unmarshal(body, &contacts); err == nil {
		return contacts, nil
	}

	var wrapped struct {
		Teachers []Contact `json:"teachers"`
		Data     []Contact `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, errors.Wrap(ErrUnavailable, "contacts response not in any known shape")
	}
	if wrapped.Teachers != nil {
		return wrapped.Teachers, nil
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return nil, errors.Wrap(ErrUnavailable, "contacts response not in any known shape")
}

// History fetches past messages; accepts a bare array or {messages: []}.
func (c *Client) History(ctx context.Context) ([]HistoryItem, error) {
	body, err := c.get(ctx, "/messages/history")
	if err != nil {
		return nil, err
	}

	var items []HistoryItem
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Messages []HistoryItem `json:"messages"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Messages == nil {
		return nil, errors.Wrap(ErrUnavailable, "history response not in any known shape")
	}
	return wrapped.Messages, nil
}

// SendMessage posts a message; any non-2xx response is a send failure.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encoding send request")
	}

	res, err := c.do(ctx, http.MethodPost, "/messages/send", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", errors.Wrapf(ErrSendFailed, "status %d", res.StatusCode)
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		// accepted but unreadable ack; the send still counts
		c.log.Debug("directory: unreadable send ack", err)
		return "", nil
	}
	return out.MessageID, nil
}

// Health is the lightweight probe the connection manager uses to distinguish
// "websocket blocked" from "backend down".
func (c *Client) Health(ctx context.Context) bool {
	res, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode >= 200 && res.StatusCode <= 299
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errors.Wrapf(ErrUnavailable, "GET %s: status %d", path, res.StatusCode)
	}
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading GET %s response", path)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s request", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	if sess, err := c.sess.Get(); err == nil && sess.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return res, nil
}
