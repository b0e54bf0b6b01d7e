package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to the chain gateway that fronts the vault program. The
// gateway owns transaction signing and confirmation.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type stateResponse struct {
	AssetID              string `json:"assetId"`
	Address              string `json:"address"`
	PremiumTokenAccount  string `json:"premiumTokenAccount"`
	Epoch                uint64 `json:"epoch,string"`
	TotalAssets          uint64 `json:"totalAssets,string"`
	TotalShares          uint64 `json:"totalShares,string"`
	PremiumBalance       uint64 `json:"premiumBalanceUsdc,string"`
	EpochPremiumEarned   uint64 `json:"epochPremiumEarned,string"`
	EpochNotionalExposed uint64 `json:"epochNotionalExposed,string"`
	UtilizationCapBps    uint16 `json:"utilizationCapBps"`
	MinEpochDuration     int64  `json:"minEpochDuration"`
	LastRollTimestamp    int64  `json:"lastRollTimestamp"`
	IsPaused             bool   `json:"isPaused"`
}

type rollRequest struct {
	ExpectedEpoch uint64  `json:"expectedEpoch,string"`
	Notional      uint64  `json:"notional,string"`
	Premium       uint64  `json:"premium,string"`
	Strike        float64 `json:"strike"`
	Expiry        int64   `json:"expiry"`
	MakerID       string  `json:"makerId"`
	RFQID         string  `json:"rfqId"`
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount,string"`
}

type settleRequest struct {
	Epoch      uint64  `json:"epoch,string"`
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	InTheMoney bool    `json:"itm"`
	Payoff     uint64  `json:"payoff,string"`
	NetPremium uint64  `json:"netPremium,string"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

type balanceResponse struct {
	Amount uint64 `json:"amount,string"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *HTTPClient) GetVaultState(ctx context.Context, assetID string) (State, error) {
	var resp stateResponse
	if err := c.do(ctx, http.MethodGet, "/vaults/"+url.PathEscape(assetID), nil, &resp); err != nil {
		return State{}, err
	}
	if resp.AssetID == "" {
		resp.AssetID = assetID
	}
	return State{
		AssetID:              resp.AssetID,
		Address:              resp.Address,
		PremiumTokenAccount:  resp.PremiumTokenAccount,
		Epoch:                resp.Epoch,
		TotalAssets:          resp.TotalAssets,
		TotalShares:          resp.TotalShares,
		PremiumBalance:       resp.PremiumBalance,
		EpochPremiumEarned:   resp.EpochPremiumEarned,
		EpochNotionalExposed: resp.EpochNotionalExposed,
		UtilizationCapBps:    resp.UtilizationCapBps,
		MinEpochDuration:     time.Duration(resp.MinEpochDuration) * time.Second,
		LastRollTimestamp:    time.Unix(resp.LastRollTimestamp, 0).UTC(),
		IsPaused:             resp.IsPaused,
	}, nil
}

func (c *HTTPClient) SubmitRoll(ctx context.Context, roll RollInstruction) (string, error) {
	req := rollRequest{
		ExpectedEpoch: roll.ExpectedEpoch,
		Notional:      roll.Notional,
		Premium:       roll.Premium,
		Strike:        roll.Strike,
		Expiry:        roll.Expiry.Unix(),
		MakerID:       roll.MakerID,
		RFQID:         roll.RFQID,
	}
	var resp signatureResponse
	if err := c.do(ctx, http.MethodPost, "/vaults/"+url.PathEscape(roll.AssetID)+"/roll", req, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", errors.New("vault: empty roll signature")
	}
	return resp.Signature, nil
}

// SettleEpoch records the expiry of an epoch's option. The gateway rejects a
// second settlement of the same epoch.
func (c *HTTPClient) SettleEpoch(ctx context.Context, s Settlement) (string, error) {
	req := settleRequest{
		Epoch:      s.Epoch,
		Spot:       s.Spot,
		Strike:     s.Strike,
		InTheMoney: s.InTheMoney,
		Payoff:     s.Payoff,
		NetPremium: s.NetPremium,
	}
	var resp signatureResponse
	if err := c.do(ctx, http.MethodPost, "/vaults/"+url.PathEscape(s.AssetID)+"/settle", req, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", errors.New("vault: empty settle signature")
	}
	return resp.Signature, nil
}

func (c *HTTPClient) TokenBalance(ctx context.Context, account string) (uint64, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(account)+"/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, from, to string, amount uint64) (string, error) {
	var resp signatureResponse
	if err := c.do(ctx, http.MethodPost, "/transfers", transferRequest{From: from, To: to, Amount: amount}, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", errors.New("vault: empty transfer signature")
	}
	return resp.Signature, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return classifyStatus(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func classifyStatus(status int, raw []byte) error {
	reason := string(raw)
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		reason = decoded.Error
	}
	switch status {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return &RejectedError{Reason: reason}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, reason)
	}
	return fmt.Errorf("http %d: %s", status, reason)
}
