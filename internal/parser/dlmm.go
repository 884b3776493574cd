package parser

import (
	"encoding/binary"
	"fmt"

	"solana-trade-indexer/internal/domain"
)

// DLMMProgramID is the bin-based liquidity AMM program (mainnet).
const DLMMProgramID = "LBUZKhRxPF3XUpBCjp4YeC6BNhu2nqBDt16ymccEZLo"

// DLMM swap discriminators double as the declared protocol version.
const (
	dlmmSwapV1 = 11
	dlmmSwapV2 = 22
)

// Bins beyond this count in a single swap are truncated.
const dlmmMaxBins = 10

// DLMMParser decodes swaps on the bin-based liquidity AMM. Versions 1 and
// 2 are supported; any other declared version is rejected.
//
// Account layout: [trader, pool, mint, ...]. Data: version byte, amount in
// (u64 LE), amount out (u64 LE), swap-for-quote flag byte; v2 appends bin
// metadata: bin count (u32 LE) then i32 LE bin ids.
type DLMMParser struct{}

// NewDLMMParser creates the parser.
func NewDLMMParser() *DLMMParser { return &DLMMParser{} }

// ProgramIDs implements Parser.
func (p *DLMMParser) ProgramIDs() []string { return []string{DLMMProgramID} }

// Parse implements Parser.
func (p *DLMMParser) Parse(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Data) == 0 {
		return nil, nil
	}
	version := ix.Data[0]
	if version != dlmmSwapV1 && version != dlmmSwapV2 {
		return nil, nil
	}
	if len(ix.Data) < 18 {
		return nil, fmt.Errorf("dlmm swap: data too short: %d bytes", len(ix.Data))
	}
	if len(ix.Accounts) < 3 {
		return nil, fmt.Errorf("dlmm swap: need 3 accounts, got %d", len(ix.Accounts))
	}

	amountIn := binary.LittleEndian.Uint64(ix.Data[1:9])
	amountOut := binary.LittleEndian.Uint64(ix.Data[9:17])
	swapForQuote := ix.Data[17] != 0

	// Selling the tracked mint pays token in for quote out; buying is the
	// reverse.
	var side string
	var tokenAmount, quoteAmount uint64
	if swapForQuote {
		side = domain.SideSell
		tokenAmount, quoteAmount = amountIn, amountOut
	} else {
		side = domain.SideBuy
		tokenAmount, quoteAmount = amountOut, amountIn
	}
	if tokenAmount == 0 {
		return nil, fmt.Errorf("dlmm swap: zero token amount")
	}

	trade := &domain.TradeEvent{
		Venue:       domain.VenueDLMM,
		Pool:        ix.Accounts[1],
		Trader:      ix.Accounts[0],
		Side:        side,
		TokenAmount: tokenAmount,
		QuoteAmount: quoteAmount,
		Price:       quoteAmount / tokenAmount,
	}
	if version == dlmmSwapV2 {
		trade.BinsTouched = parseBins(ix.Data[18:])
		if len(trade.BinsTouched) > 0 {
			trade.ActiveBin = trade.BinsTouched[0]
		}
	}

	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTrade,
		Signature: meta.Signature,
		Slot:      meta.Slot,
		BlockTime: meta.BlockTime,
		TxIndex:   meta.TxIndex,
		IxIndex:   ix.Index,
		Mint:      ix.Accounts[2],
		Trade:     trade,
	}, nil
}

// parseBins reads the v2 bin list: count (u32 LE) then i32 LE ids, capped
// at dlmmMaxBins. Truncated data yields however many bins fit.
func parseBins(data []byte) []int32 {
	if len(data) < 4 {
		return nil
	}
	count := int(binary.LittleEndian.Uint32(data[:4]))
	if count > dlmmMaxBins {
		count = dlmmMaxBins
	}
	bins := make([]int32, 0, count)
	offset := 4
	for i := 0; i < count && offset+4 <= len(data); i++ {
		bins = append(bins, int32(binary.LittleEndian.Uint32(data[offset:offset+4])))
		offset += 4
	}
	return bins
}
