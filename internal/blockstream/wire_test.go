package blockstream

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeBlockResolvesIndexes(t *testing.T) {
	raw := []byte(`{
		"slot": 105,
		"blockTime": 1700000000,
		"transactions": [
			{
				"signature": "sig1",
				"accountKeys": ["walletA", "walletB", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"],
				"instructions": [
					{"programIdIndex": 2, "accounts": [0, 1], "data": "` + base64.StdEncoding.EncodeToString([]byte{3, 1, 0, 0, 0, 0, 0, 0, 0}) + `"}
				]
			}
		]
	}`)

	var wb wireBlock
	if err := json.Unmarshal(raw, &wb); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := decodeBlock(wb)

	if b.Slot != 105 || b.BlockTime != 1700000000 {
		t.Errorf("header = (%d, %d)", b.Slot, b.BlockTime)
	}
	if len(b.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(b.Transactions))
	}
	tx := b.Transactions[0]
	if tx.Signature != "sig1" || tx.Index != 0 {
		t.Errorf("tx = (%q, %d)", tx.Signature, tx.Index)
	}
	if len(tx.Instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(tx.Instructions))
	}
	ix := tx.Instructions[0]
	if ix.ProgramID != "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" {
		t.Errorf("ProgramID = %q", ix.ProgramID)
	}
	if len(ix.Accounts) != 2 || ix.Accounts[0] != "walletA" || ix.Accounts[1] != "walletB" {
		t.Errorf("Accounts = %v", ix.Accounts)
	}
	if len(ix.Data) != 9 || ix.Data[0] != 3 {
		t.Errorf("Data = %v", ix.Data)
	}
}

func TestDecodeBlockDropsBadInstructions(t *testing.T) {
	wb := wireBlock{
		Slot: 10,
		Transactions: []wireTransaction{
			{
				Signature:   "sig1",
				AccountKeys: []string{"a", "b"},
				Instructions: []wireInstruction{
					{ProgramIDIndex: 9, Accounts: []int{0}, Data: ""},       // program index out of range
					{ProgramIDIndex: 1, Accounts: []int{5}, Data: ""},       // account index out of range
					{ProgramIDIndex: 1, Accounts: []int{0}, Data: "%%%%"},   // invalid base64
					{ProgramIDIndex: 1, Accounts: []int{0}, Data: "AwEC"},   // valid
				},
			},
		},
	}

	b := decodeBlock(wb)
	if len(b.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(b.Transactions))
	}
	ixs := b.Transactions[0].Instructions
	if len(ixs) != 1 {
		t.Fatalf("got %d instructions, want 1 surviving", len(ixs))
	}
	if ixs[0].Index != 3 {
		t.Errorf("surviving instruction index = %d, want original position 3", ixs[0].Index)
	}
}
