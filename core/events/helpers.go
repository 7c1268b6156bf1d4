package events

import (
	"math/big"

	"repcollateral/crypto"
)

func formatAddress(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
