package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSMaker opens one websocket session per auction, sends the request and
// waits for the matching quote.
type WSMaker struct {
	id     string
	url    string
	apiKey string
	log    *zap.Logger
}

func NewWSMaker(id, url, apiKey string, log *zap.Logger) *WSMaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSMaker{id: id, url: url, apiKey: apiKey, log: log}
}

func (m *WSMaker) ID() string {
	return m.id
}

func (m *WSMaker) RequestQuote(ctx context.Context, req Request) (Quote, bool, error) {
	opts := &websocket.DialOptions{}
	if m.apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + m.apiKey}}
	}
	conn, _, err := websocket.Dial(ctx, m.url, opts)
	if err != nil {
		return Quote{}, false, fmt.Errorf("dial maker %s: %w", m.id, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	if err := writeJSON(ctx, conn, newRFQMessage(req)); err != nil {
		return Quote{}, false, fmt.Errorf("send rfq to %s: %w", m.id, err)
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Quote{}, false, ctx.Err()
			}
			return Quote{}, false, fmt.Errorf("read from %s: %w", m.id, err)
		}
		var msg quoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Debug("ignoring malformed maker message", zap.String("maker", m.id), zap.Error(err))
			continue
		}
		if msg.RFQID != "" && msg.RFQID != req.ID {
			continue
		}
		switch msg.Type {
		case "quote":
			return msg.quote(m.id), true, nil
		case "decline":
			return Quote{}, false, nil
		case "error":
			return Quote{}, false, errors.New("maker " + m.id + ": " + msg.Reason)
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
