// Package rfq runs the sealed-bid quote auction for each epoch's option.
package rfq

import (
	"context"
	"strconv"
	"time"
)

const OptionTypeCall = "CALL"

// Request is immutable once issued; (AssetID, Epoch) identifies the auction.
type Request struct {
	ID           string
	AssetID      string
	Epoch        uint64
	Strike       float64
	Expiry       time.Time
	Notional     uint64
	VaultAddress string
	OptionType   string
	IssuedAt     time.Time
	Keeper       string
	Signature    string
}

// Quote is a maker's bid. Premium is the total premium for the request's
// notional, in quote-asset units.
type Quote struct {
	RFQID      string
	MakerID    string
	Premium    float64
	ReceivedAt time.Time
	Signature  string
}

// Maker is one market maker endpoint. ok is false when the maker declines.
type Maker interface {
	ID() string
	RequestQuote(ctx context.Context, req Request) (q Quote, ok bool, err error)
}

type rfqMessage struct {
	Type       string  `json:"type"`
	RFQID      string  `json:"rfqId"`
	Asset      string  `json:"asset"`
	Epoch      uint64  `json:"epoch"`
	Strike     float64 `json:"strike"`
	Expiry     int64   `json:"expiry"`
	Notional   string  `json:"notional"`
	Vault      string  `json:"vault"`
	OptionType string  `json:"optionType"`
	IssuedAt   int64   `json:"issuedAt"`
	Keeper     string  `json:"keeper,omitempty"`
	Signature  string  `json:"signature,omitempty"`
}

type quoteMessage struct {
	Type      string  `json:"type"`
	RFQID     string  `json:"rfqId"`
	MakerID   string  `json:"makerId"`
	Premium   float64 `json:"premium"`
	Signature string  `json:"signature,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

func newRFQMessage(req Request) rfqMessage {
	return rfqMessage{
		Type:       "rfq",
		RFQID:      req.ID,
		Asset:      req.AssetID,
		Epoch:      req.Epoch,
		Strike:     req.Strike,
		Expiry:     req.Expiry.Unix(),
		Notional:   strconv.FormatUint(req.Notional, 10),
		Vault:      req.VaultAddress,
		OptionType: req.OptionType,
		IssuedAt:   req.IssuedAt.UnixMilli(),
		Keeper:     req.Keeper,
		Signature:  req.Signature,
	}
}

func (m quoteMessage) quote(makerID string) Quote {
	id := m.MakerID
	if id == "" {
		id = makerID
	}
	return Quote{RFQID: m.RFQID, MakerID: id, Premium: m.Premium, Signature: m.Signature}
}
