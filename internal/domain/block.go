package domain

// Block is a confirmed block as delivered by a stream source, with
// program ids and account keys already resolved to base58 addresses.
type Block struct {
	Slot         int64         // Solana slot number
	BlockTime    int64         // Unix timestamp in seconds
	Transactions []Transaction // in block order
}

// Transaction is one transaction inside a block.
type Transaction struct {
	Signature    string        // base58 transaction signature
	Index        int           // position within the block
	Instructions []Instruction // top-level instructions, in order
}

// Instruction is a single instruction with resolved accounts.
type Instruction struct {
	Index     int      // position within the transaction
	ProgramID string   // base58 program address
	Accounts  []string // base58 account addresses, in program-defined order
	Data      []byte   // raw instruction data
}
