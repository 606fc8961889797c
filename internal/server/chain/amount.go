package chain

import (
	"fmt"
	"math/big"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a token amount to integer base units. Amounts that are
// not positive, exceed uint64 or carry more precision than decimals allows
// are rejected with common.ErrValidation.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", common.ErrValidation, amount, decimals)
	}
	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s is too large", common.ErrValidation, amount)
	}
	return n.Uint64(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}
