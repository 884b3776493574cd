package blockstream

import (
	"encoding/base64"
	"fmt"

	"solana-trade-indexer/internal/domain"
)

// Wire shapes of the stream service. Instruction accounts and program
// ids are indexes into the transaction's account keys.

type wireBlock struct {
	Slot         int64             `json:"slot"`
	BlockTime    int64             `json:"blockTime"`
	Transactions []wireTransaction `json:"transactions"`
}

type wireTransaction struct {
	Signature    string            `json:"signature"`
	AccountKeys  []string          `json:"accountKeys"`
	Instructions []wireInstruction `json:"instructions"`
}

type wireInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"` // base64
}

// decodeBlock resolves a wire block into the domain shape. Instructions
// with out-of-range indexes or undecodable data are dropped; the block
// itself always decodes.
func decodeBlock(raw wireBlock) domain.Block {
	block := domain.Block{
		Slot:         raw.Slot,
		BlockTime:    raw.BlockTime,
		Transactions: make([]domain.Transaction, 0, len(raw.Transactions)),
	}
	for txIdx, wtx := range raw.Transactions {
		tx := domain.Transaction{
			Signature:    wtx.Signature,
			Index:        txIdx,
			Instructions: make([]domain.Instruction, 0, len(wtx.Instructions)),
		}
		for ixIdx, wix := range wtx.Instructions {
			ix, err := decodeInstruction(wtx.AccountKeys, ixIdx, wix)
			if err != nil {
				continue
			}
			tx.Instructions = append(tx.Instructions, ix)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block
}

func decodeInstruction(keys []string, index int, wix wireInstruction) (domain.Instruction, error) {
	if wix.ProgramIDIndex < 0 || wix.ProgramIDIndex >= len(keys) {
		return domain.Instruction{}, fmt.Errorf("program id index %d out of range", wix.ProgramIDIndex)
	}
	accounts := make([]string, 0, len(wix.Accounts))
	for _, a := range wix.Accounts {
		if a < 0 || a >= len(keys) {
			return domain.Instruction{}, fmt.Errorf("account index %d out of range", a)
		}
		accounts = append(accounts, keys[a])
	}
	data, err := base64.StdEncoding.DecodeString(wix.Data)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("decode data: %w", err)
	}
	return domain.Instruction{
		Index:     index,
		ProgramID: keys[wix.ProgramIDIndex],
		Accounts:  accounts,
		Data:      data,
	}, nil
}
