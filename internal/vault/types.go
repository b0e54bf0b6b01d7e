package vault

import (
	"context"
	"time"
)

// State is a point-in-time copy of the on-chain vault record. Amounts are in
// base units of the vault's underlying (or premium) token.
type State struct {
	AssetID              string
	Address              string
	PremiumTokenAccount  string
	Epoch                uint64
	TotalAssets          uint64
	TotalShares          uint64
	PremiumBalance       uint64
	EpochPremiumEarned   uint64
	EpochNotionalExposed uint64
	UtilizationCapBps    uint16
	MinEpochDuration     time.Duration
	LastRollTimestamp    time.Time
	IsPaused             bool
}

// RollDue reports whether the minimum epoch duration has elapsed at now.
func (s State) RollDue(now time.Time) bool {
	return now.Sub(s.LastRollTimestamp) >= s.MinEpochDuration
}

// RollInstruction is the settlement payload for one epoch roll. ExpectedEpoch
// is the epoch the vault is in when the instruction is built; a landed roll
// moves the vault to ExpectedEpoch+1.
type RollInstruction struct {
	AssetID       string
	ExpectedEpoch uint64
	Notional      uint64
	Premium       uint64
	Strike        float64
	Expiry        time.Time
	MakerID       string
	RFQID         string
}

// Settlement closes the option written for Epoch once it has expired. Payoff
// is owed to the maker and NetPremium is what the vault keeps, both in base
// units of the underlying.
type Settlement struct {
	AssetID    string
	Epoch      uint64
	Spot       float64
	Strike     float64
	InTheMoney bool
	Payoff     uint64
	NetPremium uint64
}

type Client interface {
	GetVaultState(ctx context.Context, assetID string) (State, error)
	SubmitRoll(ctx context.Context, roll RollInstruction) (string, error)
	TokenBalance(ctx context.Context, account string) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) (string, error)
}
