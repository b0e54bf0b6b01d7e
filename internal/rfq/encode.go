package rfq

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeRequest is the canonical byte form of a request that the keeper signs.
func EncodeRequest(req Request) ([]byte, error) {
	if req.ID == "" {
		return nil, errors.New("rfq id is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	fields := []struct {
		key   string
		value interface{}
	}{
		{"rfqId", req.ID},
		{"asset", req.AssetID},
		{"epoch", req.Epoch},
		{"strike", strconv.FormatFloat(req.Strike, 'f', -1, 64)},
		{"expiry", req.Expiry.Unix()},
		{"notional", req.Notional},
		{"vault", req.VaultAddress},
		{"optionType", req.OptionType},
		{"issuedAt", req.IssuedAt.UnixMilli()},
	}
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.key); err != nil {
			return nil, err
		}
		if err := enc.Encode(f.value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeQuote is the canonical byte form a maker signs for its bid.
func EncodeQuote(q Quote) ([]byte, error) {
	if q.RFQID == "" {
		return nil, errors.New("quote rfq id is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(3); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("rfqId"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(q.RFQID); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("makerId"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(q.MakerID); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("premium"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(strconv.FormatFloat(q.Premium, 'f', -1, 64)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
