package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"solana-trade-indexer/internal/domain"
)

// BondingCurveProgramID is the pump.fun bonding curve program.
const BondingCurveProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// anchorDiscriminator derives the 8-byte Anchor instruction discriminator.
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

var (
	bondingBuyDisc  = anchorDiscriminator("buy")
	bondingSellDisc = anchorDiscriminator("sell")
)

// BondingCurveParser decodes buy/sell trades against a bonding curve.
//
// Per the program IDL: mint at accounts[2], curve at accounts[3], user at
// accounts[6]. Args after the discriminator: token amount (u64 LE), then
// the SOL bound (u64 LE): maxSolCost for buys, minSolOutput for sells.
type BondingCurveParser struct{}

// NewBondingCurveParser creates the parser.
func NewBondingCurveParser() *BondingCurveParser { return &BondingCurveParser{} }

// ProgramIDs implements Parser.
func (p *BondingCurveParser) ProgramIDs() []string { return []string{BondingCurveProgramID} }

// Parse implements Parser.
func (p *BondingCurveParser) Parse(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Data) < 8 {
		return nil, nil
	}

	var side string
	switch {
	case bytes.Equal(ix.Data[:8], bondingBuyDisc):
		side = domain.SideBuy
	case bytes.Equal(ix.Data[:8], bondingSellDisc):
		side = domain.SideSell
	default:
		return nil, nil
	}

	if len(ix.Data) < 24 {
		return nil, fmt.Errorf("bonding %s: args too short: %d bytes", side, len(ix.Data))
	}
	if len(ix.Accounts) < 7 {
		return nil, fmt.Errorf("bonding %s: need 7 accounts, got %d", side, len(ix.Accounts))
	}

	tokenAmount := binary.LittleEndian.Uint64(ix.Data[8:16])
	quoteAmount := binary.LittleEndian.Uint64(ix.Data[16:24])
	if tokenAmount == 0 {
		return nil, fmt.Errorf("bonding %s: zero token amount", side)
	}

	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTrade,
		Signature: meta.Signature,
		Slot:      meta.Slot,
		BlockTime: meta.BlockTime,
		TxIndex:   meta.TxIndex,
		IxIndex:   ix.Index,
		Mint:      ix.Accounts[2],
		Trade: &domain.TradeEvent{
			Venue:       domain.VenueBonding,
			Pool:        ix.Accounts[3],
			Trader:      ix.Accounts[6],
			Side:        side,
			TokenAmount: tokenAmount,
			QuoteAmount: quoteAmount,
			Price:       quoteAmount / tokenAmount,
		},
	}, nil
}
