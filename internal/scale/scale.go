package scale

import "math/big"

// Two fixed-point precisions are used across the core: WAD (1e18) for prices,
// rates, and leverage ratios, and RAY (1e27) for compounding interest indexes.
// All multiply/divide helpers round half-up so that accrual is
// order-independent within a single update.
var (
	Wad     = mustBig("1000000000000000000")
	Ray     = mustBig("1000000000000000000000000000")
	halfWad = new(big.Int).Rsh(Wad, 1)
	halfRay = new(big.Int).Rsh(Ray, 1)

	// WadToRayFactor converts a WAD value to RAY precision.
	WadToRayFactor = mustBig("1000000000")

	basisPoints = big.NewInt(10_000)
)

// BpsDenominator is the basis-point scale: 10000 bps = 1x = 100%.
const BpsDenominator = 10_000

func mustBig(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("scale: invalid big integer constant")
	}
	return v
}

// WadMul multiplies two WAD values, rounding half-up.
func WadMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfWad)
	product.Quo(product, Wad)
	return product
}

// WadDiv divides a by b in WAD precision, rounding half-up. A zero divisor
// yields zero.
func WadDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, Wad)
	numerator.Add(numerator, halfUp(b))
	numerator.Quo(numerator, b)
	return numerator
}

// RayMul multiplies two RAY values, rounding half-up.
func RayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, Ray)
	return product
}

// RayDiv divides a by b in RAY precision, rounding half-up. A zero divisor
// yields zero.
func RayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, Ray)
	numerator.Add(numerator, halfUp(b))
	numerator.Quo(numerator, b)
	return numerator
}

// WadToRay lifts a WAD value into RAY precision.
func WadToRay(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(a, WadToRayFactor)
}

// RayToWad lowers a RAY value into WAD precision, rounding half-up.
func RayToWad(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Add(a, new(big.Int).Rsh(WadToRayFactor, 1))
	out.Quo(out, WadToRayFactor)
	return out
}

// MulBps scales an amount by a basis-point fraction, rounding half-up.
func MulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	out.Add(out, halfUp(basisPoints))
	out.Quo(out, basisPoints)
	return out
}

// DivRound divides a by b, rounding half-up. A zero divisor yields zero.
func DivRound(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Add(a, halfUp(b))
	out.Quo(out, b)
	return out
}

// Clamp bounds a value to [lo, hi].
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v == nil {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return v
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}
