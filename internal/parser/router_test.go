package parser

import (
	"io"
	"log"
	"testing"

	"solana-trade-indexer/internal/domain"
)

func newTestRouter(t *testing.T, trackedMints []string) *Router {
	t.Helper()
	r, err := NewRouter(log.New(io.Discard, "", 0), trackedMints,
		NewSPLTokenParser(nil),
		NewBondingCurveParser(),
		NewAMMSwapParser(),
		NewDLMMParser(),
	)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func TestRouterDropsUnknownPrograms(t *testing.T) {
	r := newTestRouter(t, nil)
	tx := domain.Transaction{
		Signature: "sig1",
		Instructions: []domain.Instruction{
			{Index: 0, ProgramID: "ComputeBudget111111111111111111111111111111", Data: []byte{1, 2, 3}},
			{Index: 1, ProgramID: "Vote111111111111111111111111111111111111111", Data: []byte{9}},
		},
	}
	if events := r.ParseTransaction(100, 1700000000, tx); len(events) != 0 {
		t.Fatalf("expected no events from unknown programs, got %d", len(events))
	}
}

func TestRouterRoutesByProgramID(t *testing.T) {
	r := newTestRouter(t, nil)
	tx := domain.Transaction{
		Signature: "sig1",
		Index:     3,
		Instructions: []domain.Instruction{
			{
				Index:     0,
				ProgramID: BondingCurveProgramID,
				Accounts:  bondingAccounts(),
				Data:      bondingData(bondingBuyDisc, 1000, 50000),
			},
			{
				Index:     1,
				ProgramID: "SomeOtherProgram1111111111111111111111111111",
				Data:      []byte{1},
			},
			{
				Index:     2,
				ProgramID: DLMMProgramID,
				Accounts:  dlmmAccounts(),
				Data:      dlmmData(dlmmSwapV1, 5000, 100, false, nil),
			},
		},
	}

	events := r.ParseTransaction(100, 1700000000, tx)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Trade.Venue != domain.VenueBonding {
		t.Errorf("events[0].Venue = %q, want bonding", events[0].Trade.Venue)
	}
	if events[1].Trade.Venue != domain.VenueDLMM {
		t.Errorf("events[1].Venue = %q, want dlmm", events[1].Trade.Venue)
	}
	if events[0].IxIndex != 0 || events[1].IxIndex != 2 {
		t.Errorf("ix indexes = (%d, %d), want (0, 2)", events[0].IxIndex, events[1].IxIndex)
	}
}

func TestRouterMalformedInstructionSkipped(t *testing.T) {
	r := newTestRouter(t, nil)
	tx := domain.Transaction{
		Signature: "sig1",
		Instructions: []domain.Instruction{
			{
				Index:     0,
				ProgramID: BondingCurveProgramID,
				Accounts:  bondingAccounts(),
				Data:      bondingData(bondingBuyDisc, 0, 50000), // zero token amount
			},
			{
				Index:     1,
				ProgramID: BondingCurveProgramID,
				Accounts:  bondingAccounts(),
				Data:      bondingData(bondingSellDisc, 10, 100),
			},
		},
	}

	events := r.ParseTransaction(100, 1700000000, tx)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (malformed dropped, valid kept)", len(events))
	}
	if events[0].IxIndex != 1 {
		t.Errorf("surviving event IxIndex = %d, want 1", events[0].IxIndex)
	}
}

func TestRouterMintWhitelist(t *testing.T) {
	r := newTestRouter(t, []string{"mintA"})

	other := bondingAccounts()
	other[2] = "mintB"
	tx := domain.Transaction{
		Signature: "sig1",
		Instructions: []domain.Instruction{
			{
				Index:     0,
				ProgramID: BondingCurveProgramID,
				Accounts:  bondingAccounts(),
				Data:      bondingData(bondingBuyDisc, 10, 100),
			},
			{
				Index:     1,
				ProgramID: BondingCurveProgramID,
				Accounts:  other,
				Data:      bondingData(bondingBuyDisc, 10, 100),
			},
		},
	}

	events := r.ParseTransaction(100, 1700000000, tx)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 after whitelist filtering", len(events))
	}
	if events[0].Mint != "mintA" {
		t.Errorf("Mint = %q, want mintA", events[0].Mint)
	}
}

func TestRouterHooksObserveOutcomes(t *testing.T) {
	r := newTestRouter(t, []string{"mintA"})

	var parseErrors, unknown, whitelisted []string
	r.Hooks = RouterHooks{
		OnParseError:     func(program string) { parseErrors = append(parseErrors, program) },
		OnUnknownProgram: func(program string) { unknown = append(unknown, program) },
		OnWhitelistDrop:  func(mint string) { whitelisted = append(whitelisted, mint) },
	}

	other := bondingAccounts()
	other[2] = "mintB"
	tx := domain.Transaction{
		Signature: "sig1",
		Instructions: []domain.Instruction{
			{Index: 0, ProgramID: "Vote111111111111111111111111111111111111111", Data: []byte{9}},
			{
				Index:     1,
				ProgramID: BondingCurveProgramID,
				Accounts:  bondingAccounts(),
				Data:      bondingData(bondingBuyDisc, 0, 50000), // zero token amount
			},
			{
				Index:     2,
				ProgramID: BondingCurveProgramID,
				Accounts:  other,
				Data:      bondingData(bondingBuyDisc, 10, 100),
			},
		},
	}

	if events := r.ParseTransaction(100, 1700000000, tx); len(events) != 0 {
		t.Fatalf("expected all instructions observed but dropped, got %d events", len(events))
	}
	if len(unknown) != 1 || unknown[0] != "Vote111111111111111111111111111111111111111" {
		t.Errorf("unknown = %v", unknown)
	}
	if len(parseErrors) != 1 || parseErrors[0] != BondingCurveProgramID {
		t.Errorf("parse errors = %v", parseErrors)
	}
	if len(whitelisted) != 1 || whitelisted[0] != "mintB" {
		t.Errorf("whitelist drops = %v", whitelisted)
	}
}

func TestRouterRejectsDuplicateRegistration(t *testing.T) {
	r, err := NewRouter(log.New(io.Discard, "", 0), nil, NewAMMSwapParser())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	if err := r.Register(NewAMMSwapParser()); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}
