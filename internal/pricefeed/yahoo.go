package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"optionsfi-keeper/internal/volatility"

	"go.uber.org/zap"
)

// Yahoo serves daily closes for the traditional-market ticker.
type Yahoo struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	now     func() time.Time
}

func NewYahoo(baseURL string, timeout time.Duration, log *zap.Logger) *Yahoo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Yahoo{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) History(ctx context.Context, ticker string, lookbackDays int) ([]volatility.Sample, error) {
	end := y.now()
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	endpoint := y.baseURL + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := y.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var decoded chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s", decoded.Chart.Error.Code, decoded.Chart.Error.Description)
	}
	if len(decoded.Chart.Result) == 0 || len(decoded.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: empty chart for %s", ErrNoPrice, ticker)
	}
	result := decoded.Chart.Result[0]
	closes := result.Indicators.Quote[0].Close
	out := make([]volatility.Sample, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		out = append(out, volatility.Sample{Time: time.Unix(ts, 0).UTC(), Price: *closes[i]})
	}
	return out, nil
}
