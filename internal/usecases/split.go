package usecases

import (
	"fmt"

	"github.com/shopspring/decimal"

	domainerrors "custody.backend/internal/domain/errors"
)

// ShareQuantum is the smallest amount a share can hold.
var ShareQuantum = decimal.New(1, -2)

// Rand is the random source used by SplitRandom. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Int64N(n int64) int64
}

// SplitAverage divides total into count equal shares. The cent left over by
// rounding goes to the first shares, so 10.00/3 gives [3.34 3.33 3.33].
func SplitAverage(total decimal.Decimal, count int) ([]decimal.Decimal, error) {
	cents, err := splitCents(total, count)
	if err != nil {
		return nil, err
	}
	base := cents / int64(count)
	extra := cents % int64(count)

	out := make([]decimal.Decimal, count)
	for i := range out {
		c := base
		if int64(i) < extra {
			c++
		}
		out[i] = decimal.New(c, -2)
	}
	return out, nil
}

// SplitRandom draws each share in [0.01, 2*mean] with mean truncated to the
// quantum. Bounds are tightened on every draw so the last share always lands
// in range; if they ever cross, the average split is used instead.
func SplitRandom(total decimal.Decimal, count int, rng Rand) ([]decimal.Decimal, error) {
	cents, err := splitCents(total, count)
	if err != nil {
		return nil, err
	}
	if count == 1 {
		return []decimal.Decimal{decimal.New(cents, -2)}, nil
	}

	capCents := 2 * (cents / int64(count))
	out := make([]decimal.Decimal, count)
	remaining := cents
	for i := 0; i < count-1; i++ {
		left := int64(count - 1 - i)
		lo := max(1, remaining-capCents*left)
		hi := min(capCents, remaining-left)
		if lo > hi {
			return SplitAverage(total, count)
		}
		c := lo + rng.Int64N(hi-lo+1)
		out[i] = decimal.New(c, -2)
		remaining -= c
	}
	if remaining < 1 || remaining > capCents {
		return SplitAverage(total, count)
	}
	out[count-1] = decimal.New(remaining, -2)
	return out, nil
}

func splitCents(total decimal.Decimal, count int) (int64, error) {
	if count <= 0 {
		return 0, fmt.Errorf("%w: share count must be positive", domainerrors.ErrInvalidInput)
	}
	if !total.Equal(total.Truncate(2)) {
		return 0, fmt.Errorf("%w: amount has more than two decimals", domainerrors.ErrInvalidInput)
	}
	cents := total.Shift(2).IntPart()
	if cents < int64(count) {
		return 0, fmt.Errorf("%w: %s cannot fill %d shares of at least %s", domainerrors.ErrInvalidInput, total, count, ShareQuantum)
	}
	return cents, nil
}
