package parser

import (
	"encoding/binary"
	"fmt"

	"solana-trade-indexer/internal/domain"
)

// Raydium-style AMM program ids (mainnet).
const (
	AMMFusionProgramID = "PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjccR8DL7"
	AMMV3ProgramID     = "9KEPoZmtHkcsf9wXW4c6ZTwkdq4d5JZy2QTrPJWYC72"
	AMMV4ProgramID     = "675kPX9MHTjS2zt1qrNpOtSzVDfZtdztM2raKPLC5Jb"
)

// AMM swap instruction discriminators.
const (
	ammSwapBaseIn  = 9  // amount_in, minimum_amount_out
	ammSwapBaseOut = 10 // maximum_amount_in, amount_out
)

// AMMSwapParser decodes constant-product AMM swaps across all supported
// program versions.
//
// Account layout: [trader, pool, input mint, output mint, ...vaults].
// Data: discriminator byte, amount in (u64 LE), amount out (u64 LE).
// Direction is relative to the tracked mint: paying WSOL in is a buy of
// the output mint, receiving WSOL out is a sell of the input mint. Swaps
// with no WSOL leg have no quote side and are skipped.
type AMMSwapParser struct{}

// NewAMMSwapParser creates the parser.
func NewAMMSwapParser() *AMMSwapParser { return &AMMSwapParser{} }

// ProgramIDs implements Parser.
func (p *AMMSwapParser) ProgramIDs() []string {
	return []string{AMMFusionProgramID, AMMV3ProgramID, AMMV4ProgramID}
}

// Parse implements Parser.
func (p *AMMSwapParser) Parse(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Data) == 0 {
		return nil, nil
	}
	if ix.Data[0] != ammSwapBaseIn && ix.Data[0] != ammSwapBaseOut {
		return nil, nil
	}
	if len(ix.Data) < 17 {
		return nil, fmt.Errorf("amm swap: data too short: %d bytes", len(ix.Data))
	}
	if len(ix.Accounts) < 4 {
		return nil, fmt.Errorf("amm swap: need 4 accounts, got %d", len(ix.Accounts))
	}

	amountIn := binary.LittleEndian.Uint64(ix.Data[1:9])
	amountOut := binary.LittleEndian.Uint64(ix.Data[9:17])
	trader, pool := ix.Accounts[0], ix.Accounts[1]
	inputMint, outputMint := ix.Accounts[2], ix.Accounts[3]

	var side, mint string
	var tokenAmount, quoteAmount uint64
	switch {
	case inputMint == domain.WSOLMint:
		side, mint = domain.SideBuy, outputMint
		tokenAmount, quoteAmount = amountOut, amountIn
	case outputMint == domain.WSOLMint:
		side, mint = domain.SideSell, inputMint
		tokenAmount, quoteAmount = amountIn, amountOut
	default:
		return nil, nil
	}
	if tokenAmount == 0 {
		return nil, fmt.Errorf("amm swap: zero token amount")
	}

	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTrade,
		Signature: meta.Signature,
		Slot:      meta.Slot,
		BlockTime: meta.BlockTime,
		TxIndex:   meta.TxIndex,
		IxIndex:   ix.Index,
		Mint:      mint,
		Trade: &domain.TradeEvent{
			Venue:       domain.VenueAMM,
			Pool:        pool,
			Trader:      trader,
			Side:        side,
			TokenAmount: tokenAmount,
			QuoteAmount: quoteAmount,
			Price:       quoteAmount / tokenAmount,
			InputMint:   inputMint,
			OutputMint:  outputMint,
		},
	}, nil
}
