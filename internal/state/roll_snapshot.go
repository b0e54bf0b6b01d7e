package state

import (
	"context"
	"encoding/json"
	"strings"
)

const rollSnapshotPrefix = "roll:last:"

// RollSnapshot is the last pipeline outcome recorded for a vault.
type RollSnapshot struct {
	AssetID     string  `json:"asset_id"`
	Outcome     string  `json:"outcome"`
	Epoch       uint64  `json:"epoch"`
	Spot        float64 `json:"spot"`
	Strike      float64 `json:"strike"`
	Volatility  float64 `json:"volatility"`
	Divergence  float64 `json:"divergence"`
	Theoretical float64 `json:"theoretical"`
	Premium     float64 `json:"premium"`
	MakerID     string  `json:"maker_id,omitempty"`
	Signature   string  `json:"signature,omitempty"`
	Error       string  `json:"error,omitempty"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
}

func RollSnapshotKey(assetID string) string {
	return rollSnapshotPrefix + assetID
}

func LoadRollSnapshot(ctx context.Context, store Store, assetID string) (RollSnapshot, bool, error) {
	if store == nil {
		return RollSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, RollSnapshotKey(assetID))
	if err != nil {
		return RollSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return RollSnapshot{}, false, nil
	}
	var snapshot RollSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return RollSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveRollSnapshot(ctx context.Context, store Store, snapshot RollSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, RollSnapshotKey(snapshot.AssetID), string(payload))
}
