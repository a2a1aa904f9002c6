package XRPAmount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// XRPAmount is a native amount expressed in drops.
type XRPAmount int64

const DropsPerXRP XRPAmount = 1_000_000

// MaxDrops is the total native supply (100 billion XRP) in drops.
const MaxDrops XRPAmount = 100_000_000_000 * DropsPerXRP

var ErrInvalidDrops = errors.New("invalid drops amount")

func NewXRPAmount(drops int64) XRPAmount {
	return XRPAmount(drops)
}

// ParseDrops parses the wire representation of a native amount, which is a
// base-10 integer string of drops.
func ParseDrops(s string) (XRPAmount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDrops)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDrops, s)
	}
	if n < 0 || XRPAmount(n) > MaxDrops {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDrops, s)
	}
	return XRPAmount(n), nil
}

// ParseXRP parses a decimal XRP value such as "12.5" into drops. Values
// finer than one drop are rejected.
func ParseXRP(s string) (XRPAmount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDrops, s)
	}
	drops := d.Shift(6)
	if !drops.IsInteger() {
		return 0, fmt.Errorf("%w: %q is finer than one drop", ErrInvalidDrops, s)
	}
	if drops.IsNegative() || drops.GreaterThan(decimal.NewFromInt(int64(MaxDrops))) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDrops, s)
	}
	return XRPAmount(drops.IntPart()), nil
}

func (x XRPAmount) Drops() int64 {
	return int64(x)
}

func (x XRPAmount) DecimalXRP() float64 {
	return float64(x) / float64(DropsPerXRP)
}

func (x XRPAmount) Add(other XRPAmount) XRPAmount {
	return x + other
}

func (x XRPAmount) Sub(other XRPAmount) XRPAmount {
	return x - other
}

func (x XRPAmount) Mul(factor int64) XRPAmount {
	return x * XRPAmount(factor)
}

// Scale multiplies by a non-negative factor and rounds up to a whole drop.
// The factor is applied with per-mille precision so that 10 * 1.2 is exactly 12.
func (x XRPAmount) Scale(factor float64) XRPAmount {
	if factor <= 0 || x <= 0 {
		return 0
	}
	permille := int64(math.Round(factor * 1000))
	return XRPAmount((int64(x)*permille + 999) / 1000)
}

func (x XRPAmount) IsPositive() bool {
	return x > 0
}

func (x XRPAmount) IsZero() bool {
	return x == 0
}

// String returns the wire form (integer drops).
func (x XRPAmount) String() string {
	return strconv.FormatInt(int64(x), 10)
}
