package rfq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPMaker posts the request and reads the quote from the response body.
// 204 No Content is a decline.
type HTTPMaker struct {
	id     string
	url    string
	apiKey string
	http   *http.Client
}

func NewHTTPMaker(id, url, apiKey string, client *http.Client) *HTTPMaker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMaker{id: id, url: url, apiKey: apiKey, http: client}
}

func (m *HTTPMaker) ID() string {
	return m.id
}

func (m *HTTPMaker) RequestQuote(ctx context.Context, req Request) (Quote, bool, error) {
	payload, err := json.Marshal(newRFQMessage(req))
	if err != nil {
		return Quote{}, false, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return Quote{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.http.Do(httpReq)
	if err != nil {
		return Quote{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return Quote{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Quote{}, false, fmt.Errorf("maker %s: http %d: %s", m.id, resp.StatusCode, string(body))
	}
	var msg quoteMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return Quote{}, false, err
	}
	if msg.Type == "decline" {
		return Quote{}, false, nil
	}
	return msg.quote(m.id), true, nil
}
