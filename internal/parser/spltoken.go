package parser

import (
	"encoding/binary"
	"fmt"
	"sync"

	"solana-trade-indexer/internal/domain"
)

// TokenProgramID is the SPL Token program on mainnet.
const TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// SPL Token instruction discriminators (first data byte).
const (
	splInitializeAccount  = 1
	splTransfer           = 3
	splMintTo             = 7
	splBurn               = 8
	splTransferChecked    = 12
	splMintToChecked      = 13
	splBurnChecked        = 14
	splInitializeAccount2 = 16
	splInitializeAccount3 = 18
)

// TokenRegistry caches token-account metadata observed in the stream:
// account -> (mint, owner) from initialize and checked instructions, and
// mint -> decimals from checked amounts. Plain Transfer instructions don't
// carry the mint account, so resolution depends on this cache. Safe for
// concurrent use by parser workers.
type TokenRegistry struct {
	mu       sync.RWMutex
	accounts map[string]tokenAccount
	decimals map[string]uint8
}

type tokenAccount struct {
	mint  string
	owner string
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{
		accounts: make(map[string]tokenAccount),
		decimals: make(map[string]uint8),
	}
}

// RecordAccount remembers the mint (and, when known, owner) of a token
// account. An empty owner never overwrites a known one.
func (r *TokenRegistry) RecordAccount(account, mint, owner string) {
	if account == "" || mint == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.accounts[account]
	if ok && owner == "" {
		owner = prev.owner
	}
	r.accounts[account] = tokenAccount{mint: mint, owner: owner}
}

// Account returns the cached mint and owner of a token account.
func (r *TokenRegistry) Account(account string) (mint, owner string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ta, ok := r.accounts[account]
	return ta.mint, ta.owner, ok
}

// RecordDecimals remembers a mint's decimals; first writer wins.
func (r *TokenRegistry) RecordDecimals(mint string, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decimals[mint]; !ok {
		r.decimals[mint] = decimals
	}
}

// Decimals returns a mint's decimals if observed.
func (r *TokenRegistry) Decimals(mint string) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decimals[mint]
	return d, ok
}

// SPLTokenParser decodes SPL Token transfers, mints and burns.
//
// Account layouts (program-defined order):
//
//	Transfer (3):            [source, dest, owner]
//	TransferChecked (12):    [source, mint, dest, owner]
//	MintTo (7, 13):          [mint, dest, authority]
//	Burn (8, 14):            [source, mint, owner]
//	InitializeAccount (1):   [account, mint, owner, rent]
//	InitializeAccount2 (16): [account, mint] + owner in data
//	InitializeAccount3 (18): [account, mint] + owner in data
type SPLTokenParser struct {
	registry *TokenRegistry
}

// NewSPLTokenParser creates the parser. The registry may be shared with
// other components that need account->mint resolution.
func NewSPLTokenParser(registry *TokenRegistry) *SPLTokenParser {
	if registry == nil {
		registry = NewTokenRegistry()
	}
	return &SPLTokenParser{registry: registry}
}

// Registry returns the parser's token-account registry.
func (p *SPLTokenParser) Registry() *TokenRegistry { return p.registry }

// Compile-time interface checks.
var (
	_ Parser     = (*SPLTokenParser)(nil)
	_ Prescanner = (*SPLTokenParser)(nil)
)

// ProgramIDs implements Parser.
func (p *SPLTokenParser) ProgramIDs() []string { return []string{TokenProgramID} }

// Parse implements Parser. Initialize instructions only feed the registry
// and produce no event.
func (p *SPLTokenParser) Parse(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Data) == 0 {
		return nil, nil
	}
	switch ix.Data[0] {
	case splInitializeAccount:
		p.recordInitialize(ix)
		return nil, nil
	case splInitializeAccount2, splInitializeAccount3:
		p.recordInitialize(ix)
		return nil, nil
	case splTransfer:
		return p.parseTransfer(meta, ix)
	case splTransferChecked:
		return p.parseTransferChecked(meta, ix)
	case splMintTo, splMintToChecked:
		return p.parseMintTo(meta, ix)
	case splBurn, splBurnChecked:
		return p.parseBurn(meta, ix)
	default:
		return nil, nil
	}
}

// Prescan implements Prescanner. It applies an instruction's registry
// side effects only. Plain transfer resolution depends on accounts taught
// by earlier instructions, so the whole block must be prescanned in
// stream order before transactions are parsed concurrently.
func (p *SPLTokenParser) Prescan(ix domain.Instruction) {
	if len(ix.Data) == 0 {
		return
	}
	switch ix.Data[0] {
	case splInitializeAccount, splInitializeAccount2, splInitializeAccount3:
		p.recordInitialize(ix)
	case splTransfer:
		p.recordPlainTransfer(ix)
	case splTransferChecked:
		p.recordTransferChecked(ix)
	case splMintTo, splMintToChecked:
		p.recordMintTo(ix)
	case splBurn, splBurnChecked:
		p.recordBurn(ix)
	}
}

func (p *SPLTokenParser) recordInitialize(ix domain.Instruction) {
	if len(ix.Accounts) < 2 {
		return
	}
	owner := ""
	if ix.Data[0] == splInitializeAccount && len(ix.Accounts) >= 3 {
		owner = ix.Accounts[2]
	}
	// InitializeAccount2/3 carry the owner as a 32-byte pubkey argument,
	// but the stream delivers accounts pre-resolved only; fall back to the
	// account itself when the owner can't be read.
	p.registry.RecordAccount(ix.Accounts[0], ix.Accounts[1], owner)
}

func (p *SPLTokenParser) parseTransfer(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Accounts) < 3 {
		return nil, fmt.Errorf("transfer: need 3 accounts, got %d", len(ix.Accounts))
	}
	amount, err := readAmount(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	source, dest, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]

	// Plain Transfer carries no mint account; resolve through the registry
	// or drop, matching single-pass indexing without account state.
	mint, ok := p.recordPlainTransfer(ix)
	if !ok {
		return nil, nil
	}

	return p.transferEvent(meta, ix, mint, domain.TransferEvent{
		Kind:        domain.TransferKindTransfer,
		SourceOwner: owner,
		DestOwner:   p.ownerOf(dest),
		SourceATA:   source,
		DestATA:     dest,
		Amount:      amount,
	}), nil
}

// recordPlainTransfer resolves a plain Transfer's mint through the
// registry and teaches both legs. Reports false when neither account is
// known.
func (p *SPLTokenParser) recordPlainTransfer(ix domain.Instruction) (string, bool) {
	if len(ix.Accounts) < 3 {
		return "", false
	}
	source, dest, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
	mint, _, ok := p.registry.Account(source)
	if !ok {
		mint, _, ok = p.registry.Account(dest)
	}
	if !ok {
		return "", false
	}
	p.registry.RecordAccount(source, mint, owner)
	p.registry.RecordAccount(dest, mint, "")
	return mint, true
}

func (p *SPLTokenParser) parseTransferChecked(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Accounts) < 4 {
		return nil, fmt.Errorf("transfer_checked: need 4 accounts, got %d", len(ix.Accounts))
	}
	amount, err := readAmount(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("transfer_checked: %w", err)
	}
	source, mint, dest, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2], ix.Accounts[3]

	p.recordTransferChecked(ix)

	return p.transferEvent(meta, ix, mint, domain.TransferEvent{
		Kind:        domain.TransferKindTransfer,
		SourceOwner: owner,
		DestOwner:   p.ownerOf(dest),
		SourceATA:   source,
		DestATA:     dest,
		Amount:      amount,
	}), nil
}

func (p *SPLTokenParser) recordTransferChecked(ix domain.Instruction) {
	if len(ix.Accounts) < 4 {
		return
	}
	source, mint, dest, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2], ix.Accounts[3]
	p.registry.RecordAccount(source, mint, owner)
	p.registry.RecordAccount(dest, mint, "")
	if len(ix.Data) >= 10 {
		p.registry.RecordDecimals(mint, ix.Data[9])
	}
}

func (p *SPLTokenParser) parseMintTo(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Accounts) < 2 {
		return nil, fmt.Errorf("mint_to: need 2 accounts, got %d", len(ix.Accounts))
	}
	amount, err := readAmount(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("mint_to: %w", err)
	}
	mint, dest := ix.Accounts[0], ix.Accounts[1]

	p.recordMintTo(ix)

	return p.transferEvent(meta, ix, mint, domain.TransferEvent{
		Kind:        domain.TransferKindMint,
		SourceOwner: "system",
		DestOwner:   p.ownerOf(dest),
		DestATA:     dest,
		Amount:      amount,
	}), nil
}

func (p *SPLTokenParser) recordMintTo(ix domain.Instruction) {
	if len(ix.Accounts) < 2 {
		return
	}
	mint, dest := ix.Accounts[0], ix.Accounts[1]
	p.registry.RecordAccount(dest, mint, "")
	if ix.Data[0] == splMintToChecked && len(ix.Data) >= 10 {
		p.registry.RecordDecimals(mint, ix.Data[9])
	}
}

func (p *SPLTokenParser) parseBurn(meta Meta, ix domain.Instruction) (*domain.NormalizedEvent, error) {
	if len(ix.Accounts) < 3 {
		return nil, fmt.Errorf("burn: need 3 accounts, got %d", len(ix.Accounts))
	}
	amount, err := readAmount(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("burn: %w", err)
	}
	source, mint, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]

	p.recordBurn(ix)

	return p.transferEvent(meta, ix, mint, domain.TransferEvent{
		Kind:        domain.TransferKindBurn,
		SourceOwner: owner,
		DestOwner:   "burn",
		SourceATA:   source,
		Amount:      amount,
	}), nil
}

func (p *SPLTokenParser) recordBurn(ix domain.Instruction) {
	if len(ix.Accounts) < 3 {
		return
	}
	source, mint, owner := ix.Accounts[0], ix.Accounts[1], ix.Accounts[2]
	p.registry.RecordAccount(source, mint, owner)
	if ix.Data[0] == splBurnChecked && len(ix.Data) >= 10 {
		p.registry.RecordDecimals(mint, ix.Data[9])
	}
}

// ownerOf resolves a token account's owner through the registry, falling
// back to the account address when the owner was never observed.
func (p *SPLTokenParser) ownerOf(account string) string {
	if _, owner, ok := p.registry.Account(account); ok && owner != "" {
		return owner
	}
	return account
}

func (p *SPLTokenParser) transferEvent(meta Meta, ix domain.Instruction, mint string, tr domain.TransferEvent) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		Kind:      domain.EventKindTransfer,
		Signature: meta.Signature,
		Slot:      meta.Slot,
		BlockTime: meta.BlockTime,
		TxIndex:   meta.TxIndex,
		IxIndex:   ix.Index,
		Mint:      mint,
		Transfer:  &tr,
	}
}

// readAmount reads the u64 LE amount that follows the discriminator byte.
func readAmount(data []byte) (uint64, error) {
	if len(data) < 9 {
		return 0, fmt.Errorf("data too short for amount: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[1:9]), nil
}
