package rfq

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignature = errors.New("rfq: bad signature")

// Signer authenticates keeper requests to makers, and makers' quotes back to
// the keeper, with secp256k1 over the keccak digest of the canonical encoding.
type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	return &Signer{privKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest stamps the keeper address and signature onto req.
func (s *Signer) SignRequest(req *Request) error {
	req.Keeper = s.address.Hex()
	payload, err := EncodeRequest(*req)
	if err != nil {
		return err
	}
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	req.Signature = sig
	return nil
}

func (s *Signer) SignQuote(q *Quote) error {
	payload, err := EncodeQuote(*q)
	if err != nil {
		return err
	}
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	q.Signature = sig
	return nil
}

func (s *Signer) sign(payload []byte) (string, error) {
	sig, err := crypto.Sign(crypto.Keccak256(payload), s.privKey)
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// VerifyQuote checks that q was signed by expected.
func VerifyQuote(q Quote, expected common.Address) error {
	payload, err := EncodeQuote(q)
	if err != nil {
		return err
	}
	return verify(payload, q.Signature, expected)
}

// VerifyRequest checks that req was signed by expected.
func VerifyRequest(req Request, expected common.Address) error {
	payload, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return verify(payload, req.Signature, expected)
}

func verify(payload []byte, signature string, expected common.Address) error {
	if signature == "" {
		return fmt.Errorf("%w: missing", ErrBadSignature)
	}
	raw, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != 65 {
		return fmt.Errorf("%w: length %d", ErrBadSignature, len(raw))
	}
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != expected {
		return fmt.Errorf("%w: signed by %s, want %s", ErrBadSignature, got.Hex(), expected.Hex())
	}
	return nil
}
