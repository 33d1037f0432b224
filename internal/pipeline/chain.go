package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// ChainClient is the on-chain collaborator the publisher stage drives. The
// real client lives outside this module; DevChain stands in for it in
// development and tests.
type ChainClient interface {
	// CreateMarket deploys the market and returns its address and the
	// deployment transaction signature.
	CreateMarket(ctx context.Context, marketID string) (address, txSignature string, err error)
	// UpdateResolution propagates an overturned result to an already
	// published market.
	UpdateResolution(ctx context.Context, marketID string, result domain.ResolutionResult) error
}

// DevChain derives deterministic addresses from the market id instead of
// touching a chain. Deterministic so republish attempts of the same market
// produce the same address.
type DevChain struct{}

func NewDevChain() *DevChain { return &DevChain{} }

func (DevChain) CreateMarket(_ context.Context, marketID string) (string, string, error) {
	sum := sha256.Sum256([]byte("market:" + marketID))
	addr := common.BytesToAddress(sum[:20])
	sig := sha256.Sum256([]byte("tx:" + marketID))
	return addr.Hex(), "0x" + hex.EncodeToString(sig[:]), nil
}

func (DevChain) UpdateResolution(_ context.Context, marketID string, result domain.ResolutionResult) error {
	if !result.Valid() {
		return fmt.Errorf("devchain: invalid result %q for market %s", result, marketID)
	}
	return nil
}
