package lending

import "math/big"

var basisPoints = big.NewInt(10_000)

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// mulBps returns floor(amount * bps / 10000).
func mulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// subFloor returns a - b, floored at zero.
func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(cloneInt(a), cloneInt(b))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
