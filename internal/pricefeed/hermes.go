// Package pricefeed fetches spot and historical prices for the assets the
// vaults write calls on.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrNoPrice = errors.New("pricefeed: no price")

type Quote struct {
	Price       float64
	Confidence  float64
	PublishTime time.Time
}

// Hermes reads the latest Pyth price from the Hermes HTTP API.
type Hermes struct {
	baseURL    string
	http       *http.Client
	log        *zap.Logger
	retries    int
	retryDelay time.Duration
}

func NewHermes(baseURL string, timeout time.Duration, retries int, retryDelay time.Duration, log *zap.Logger) *Hermes {
	if log == nil {
		log = zap.NewNop()
	}
	if retries < 1 {
		retries = 1
	}
	return &Hermes{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		log:        log,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int    `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// Latest retries with a linearly growing delay before giving up.
func (h *Hermes) Latest(ctx context.Context, feedID string) (Quote, error) {
	var lastErr error
	for attempt := 0; attempt < h.retries; attempt++ {
		q, err := h.fetch(ctx, feedID)
		if err == nil {
			return q, nil
		}
		lastErr = err
		if attempt == h.retries-1 {
			break
		}
		h.log.Warn("spot price fetch failed", zap.String("feed", feedID), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-time.After(h.retryDelay * time.Duration(attempt+1)):
		}
	}
	return Quote{}, fmt.Errorf("%w: feed %s: %v", ErrNoPrice, feedID, lastErr)
}

func (h *Hermes) fetch(ctx context.Context, feedID string) (Quote, error) {
	q := url.Values{}
	q.Set("ids[]", feedID)
	q.Set("parsed", "true")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := h.http.Do(httpReq)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Quote{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var decoded hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Quote{}, err
	}
	if len(decoded.Parsed) == 0 {
		return Quote{}, ErrNoPrice
	}
	p := decoded.Parsed[0].Price
	raw, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price %q: %w", p.Price, err)
	}
	conf, _ := strconv.ParseFloat(p.Conf, 64)
	scale := math.Pow10(p.Expo)
	price := raw * scale
	if price <= 0 {
		return Quote{}, ErrNoPrice
	}
	return Quote{
		Price:       price,
		Confidence:  conf * scale,
		PublishTime: time.Unix(p.PublishTime, 0).UTC(),
	}, nil
}
