package parser

import (
	"encoding/binary"
	"testing"

	"solana-trade-indexer/internal/domain"
)

func splData(disc byte, amount uint64, extra ...byte) []byte {
	data := make([]byte, 9, 9+len(extra))
	data[0] = disc
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return append(data, extra...)
}

func testMeta() Meta {
	return Meta{Signature: "sig1", Slot: 100, BlockTime: 1700000000, TxIndex: 2}
}

func TestSPLTransferCheckedParsing(t *testing.T) {
	p := NewSPLTokenParser(nil)
	ix := domain.Instruction{
		Index:     1,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "mintA", "dstATA", "aliceWallet"},
		Data:      splData(splTransferChecked, 12345, 6), // decimals byte
	}

	ev, err := p.Parse(testMeta(), ix)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev == nil {
		t.Fatal("expected event, got nil")
	}
	if ev.Kind != domain.EventKindTransfer {
		t.Errorf("Kind = %q, want transfer", ev.Kind)
	}
	if ev.Mint != "mintA" {
		t.Errorf("Mint = %q, want mintA", ev.Mint)
	}
	if ev.IxIndex != 1 || ev.TxIndex != 2 || ev.Slot != 100 {
		t.Errorf("position = (%d,%d,%d), want (100,2,1)", ev.Slot, ev.TxIndex, ev.IxIndex)
	}
	tr := ev.Transfer
	if tr.Kind != domain.TransferKindTransfer {
		t.Errorf("transfer kind = %q", tr.Kind)
	}
	if tr.SourceOwner != "aliceWallet" {
		t.Errorf("SourceOwner = %q, want aliceWallet", tr.SourceOwner)
	}
	if tr.Amount != 12345 {
		t.Errorf("Amount = %d, want 12345", tr.Amount)
	}
	if dec, ok := p.Registry().Decimals("mintA"); !ok || dec != 6 {
		t.Errorf("decimals = %d,%v, want 6,true", dec, ok)
	}
}

func TestSPLPlainTransferNeedsRegistry(t *testing.T) {
	p := NewSPLTokenParser(nil)
	plain := domain.Instruction{
		Index:     0,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "dstATA", "aliceWallet"},
		Data:      splData(splTransfer, 500),
	}

	// Unresolvable mint: dropped without error.
	ev, err := p.Parse(testMeta(), plain)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev != nil {
		t.Fatal("expected plain transfer with unknown mint to be dropped")
	}

	// A checked transfer teaches the registry the source account's mint.
	checked := domain.Instruction{
		Index:     1,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "mintA", "otherATA", "aliceWallet"},
		Data:      splData(splTransferChecked, 1, 6),
	}
	if _, err := p.Parse(testMeta(), checked); err != nil {
		t.Fatalf("Parse checked: %v", err)
	}

	ev, err = p.Parse(testMeta(), plain)
	if err != nil {
		t.Fatalf("Parse after registry warm-up: %v", err)
	}
	if ev == nil {
		t.Fatal("expected resolvable plain transfer to produce an event")
	}
	if ev.Mint != "mintA" {
		t.Errorf("Mint = %q, want mintA", ev.Mint)
	}
	if ev.Transfer.Amount != 500 {
		t.Errorf("Amount = %d, want 500", ev.Transfer.Amount)
	}
}

func TestSPLPrescanTeachesRegistry(t *testing.T) {
	p := NewSPLTokenParser(nil)
	checked := domain.Instruction{
		Index:     0,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "mintA", "otherATA", "aliceWallet"},
		Data:      splData(splTransferChecked, 1, 6),
	}
	plain := domain.Instruction{
		Index:     1,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "dstATA", "aliceWallet"},
		Data:      splData(splTransfer, 500),
	}

	// Prescan feeds the registry without producing events, so a plain
	// transfer parses regardless of which worker saw the checked one.
	p.Prescan(checked)
	p.Prescan(plain)

	ev, err := p.Parse(testMeta(), plain)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ev == nil {
		t.Fatal("expected prescanned plain transfer to resolve")
	}
	if ev.Mint != "mintA" {
		t.Errorf("Mint = %q, want mintA", ev.Mint)
	}
	if mint, _, ok := p.Registry().Account("dstATA"); !ok || mint != "mintA" {
		t.Errorf("dstATA registry entry = %q,%v, want mintA,true", mint, ok)
	}
}

func TestSPLMintToAndBurn(t *testing.T) {
	p := NewSPLTokenParser(nil)

	mintIx := domain.Instruction{
		Index:     0,
		ProgramID: TokenProgramID,
		Accounts:  []string{"mintA", "dstATA", "authority"},
		Data:      splData(splMintTo, 1000),
	}
	ev, err := p.Parse(testMeta(), mintIx)
	if err != nil {
		t.Fatalf("Parse mint_to: %v", err)
	}
	if ev.Transfer.Kind != domain.TransferKindMint {
		t.Errorf("kind = %q, want mint", ev.Transfer.Kind)
	}
	if ev.Transfer.SourceOwner != "system" {
		t.Errorf("SourceOwner = %q, want system", ev.Transfer.SourceOwner)
	}
	if ev.Transfer.SourceATA != "" {
		t.Errorf("SourceATA = %q, want empty", ev.Transfer.SourceATA)
	}

	burnIx := domain.Instruction{
		Index:     1,
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "mintA", "bobWallet"},
		Data:      splData(splBurn, 400),
	}
	ev, err = p.Parse(testMeta(), burnIx)
	if err != nil {
		t.Fatalf("Parse burn: %v", err)
	}
	if ev.Transfer.Kind != domain.TransferKindBurn {
		t.Errorf("kind = %q, want burn", ev.Transfer.Kind)
	}
	if ev.Transfer.DestOwner != "burn" {
		t.Errorf("DestOwner = %q, want burn", ev.Transfer.DestOwner)
	}
	if ev.Transfer.SourceOwner != "bobWallet" {
		t.Errorf("SourceOwner = %q, want bobWallet", ev.Transfer.SourceOwner)
	}
}

func TestSPLMalformedData(t *testing.T) {
	p := NewSPLTokenParser(nil)
	ix := domain.Instruction{
		ProgramID: TokenProgramID,
		Accounts:  []string{"srcATA", "mintA", "dstATA", "owner"},
		Data:      []byte{splTransferChecked, 1, 2}, // truncated amount
	}
	if _, err := p.Parse(testMeta(), ix); err == nil {
		t.Fatal("expected error for truncated amount")
	}
}

func TestSPLUnknownDiscriminatorIgnored(t *testing.T) {
	p := NewSPLTokenParser(nil)
	ix := domain.Instruction{
		ProgramID: TokenProgramID,
		Accounts:  []string{"a", "b", "c"},
		Data:      splData(9, 77), // CloseAccount territory
	}
	ev, err := p.Parse(testMeta(), ix)
	if err != nil || ev != nil {
		t.Fatalf("Parse = (%v, %v), want (nil, nil)", ev, err)
	}
}
