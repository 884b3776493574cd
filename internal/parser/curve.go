package parser

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// IsOnCurve reports whether a base58 address is a valid ed25519 curve
// point. Wallet addresses are on the curve; program-derived addresses
// (pool authorities, vault owners) are not, which distinguishes user
// balances from protocol-internal ones.
func IsOnCurve(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
