// Package fixedmath provides the deterministic fixed-point arithmetic used
// for yield compounding. All values are integers scaled by 1e18 (wad) and
// every division floors, so results are bit-exact across platforms and the
// conservation checks in the accounting engine stay safe.
package fixedmath

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidRate flags a negative per-period rate or one above 100%.
	ErrInvalidRate = errors.New("fixedmath: invalid rate")
	// ErrArithmeticOverflow flags an intermediate magnitude outside the
	// supported fixed-point range.
	ErrArithmeticOverflow = errors.New("fixedmath: arithmetic overflow")
)

var (
	wad = mustBigInt("1000000000000000000") // 1e18

	// rateDenominator follows the protocol convention where one basis
	// point is 0.001% (1/100000) per period, not the usual 1/10000.
	rateDenominator = big.NewInt(100_000)
)

// maxBits bounds intermediate magnitudes. 512 bits comfortably covers any
// realistic balance times a century of per-block compounding.
const maxBits = 512

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Wad returns the 1e18 scaling constant.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

// RateFromBasisPoints converts a per-period rate expressed in protocol
// basis points into a wad-scaled fraction. A rate above 100% per period is
// rejected, matching the on-chain bound.
func RateFromBasisPoints(bps uint32) (*big.Int, error) {
	if bps > 100_000 {
		return nil, ErrInvalidRate
	}
	rate := new(big.Int).SetUint64(uint64(bps))
	rate.Mul(rate, wad)
	rate.Quo(rate, rateDenominator)
	return rate, nil
}

// CompoundGrowth computes the wad-scaled multiplier (1+rate)^periods by
// exponentiation by squaring, flooring after every wad multiply.
func CompoundGrowth(rateWad *big.Int, periods uint64) (*big.Int, error) {
	if rateWad == nil || rateWad.Sign() < 0 || rateWad.Cmp(wad) > 0 {
		return nil, ErrInvalidRate
	}
	result := new(big.Int).Set(wad)
	base := new(big.Int).Add(wad, rateWad)
	for periods > 0 {
		if periods&1 == 1 {
			if err := wadMulInto(result, result, base); err != nil {
				return nil, err
			}
		}
		periods >>= 1
		if periods > 0 {
			if err := wadMulInto(base, base, base); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// APY derives the annualised yield fraction (1+rate)^periodsPerYear - 1,
// wad scaled.
func APY(rateWad *big.Int, periodsPerYear uint64) (*big.Int, error) {
	growth, err := CompoundGrowth(rateWad, periodsPerYear)
	if err != nil {
		return nil, err
	}
	return growth.Sub(growth, wad), nil
}

// GrowthYield applies a compound growth over the provided number of periods
// to an amount and returns only the yield portion, floor-rounded:
// amount * ((1+rate)^periods - 1) / wad.
func GrowthYield(amount, rateWad *big.Int, periods uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	growth, err := CompoundGrowth(rateWad, periods)
	if err != nil {
		return nil, err
	}
	gain := growth.Sub(growth, wad)
	if gain.Sign() == 0 {
		return big.NewInt(0), nil
	}
	out := new(big.Int).Mul(amount, gain)
	if out.BitLen() > maxBits {
		return nil, ErrArithmeticOverflow
	}
	out.Quo(out, wad)
	return out, nil
}

func wadMulInto(dst, a, b *big.Int) error {
	product := new(big.Int).Mul(a, b)
	if product.BitLen() > maxBits {
		return ErrArithmeticOverflow
	}
	dst.Quo(product, wad)
	return nil
}
