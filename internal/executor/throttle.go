package executor

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxThrottleDenominator = 1_000_000
	// maxThrottleRate is one round per nanosecond, the finest interval a
	// limiter can express.
	maxThrottleRate = float64(time.Second / time.Nanosecond)
)

// Throttle allows at most Calls status check rounds per Period.
type Throttle struct {
	Calls  int
	Period time.Duration
}

// NewThrottle reduces a checks-per-second rate to the smallest
// Calls/Period-seconds pair, e.g. 0.1 -> 1 per 10s, 2.5 -> 5 per 2s. Rates
// above one per nanosecond are clamped.
func NewThrottle(perSecond float64) (Throttle, error) {
	if perSecond <= 0 || math.IsNaN(perSecond) || math.IsInf(perSecond, 0) {
		return Throttle{}, &WorkflowError{Msg: fmt.Sprintf("max status checks per second must be a positive number, got %v", perSecond)}
	}
	perSecond = min(perSecond, maxThrottleRate)
	num, den := limitDenominator(perSecond, maxThrottleDenominator)
	if num == 0 {
		// Rates below 1/maxThrottleDenominator round to zero.
		num, den = 1, maxThrottleDenominator
	}
	return Throttle{Calls: int(num), Period: time.Duration(den) * time.Second}, nil
}

// Interval is the minimum spacing between two rounds, rounded up to the
// nanosecond so that Calls intervals never add up to less than Period.
func (t Throttle) Interval() time.Duration {
	iv := t.Period / time.Duration(t.Calls)
	if iv*time.Duration(t.Calls) < t.Period {
		iv++
	}
	return iv
}

// Limiter returns a limiter that spaces rounds Interval apart. With a burst
// of one, no half-open window of Period admits more than Calls rounds.
func (t Throttle) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(t.Interval()), 1)
}

// limitDenominator returns the closest fraction to x whose denominator is at
// most maxDen, using the continued fraction expansion of x.
func limitDenominator(x float64, maxDen int64) (int64, int64) {
	r := new(big.Rat).SetFloat64(x)
	limit := big.NewInt(maxDen)
	if r.Denom().Cmp(limit) <= 0 {
		return r.Num().Int64(), r.Denom().Int64()
	}

	p0, q0 := big.NewInt(0), big.NewInt(1)
	p1, q1 := big.NewInt(1), big.NewInt(0)
	n := new(big.Int).Set(r.Num())
	d := new(big.Int).Set(r.Denom())
	for {
		a := new(big.Int).Quo(n, d)
		q2 := new(big.Int).Add(q0, new(big.Int).Mul(a, q1))
		if q2.Cmp(limit) > 0 {
			break
		}
		p2 := new(big.Int).Add(p0, new(big.Int).Mul(a, p1))
		p0, q0, p1, q1 = p1, q1, p2, q2
		n, d = d, new(big.Int).Sub(n, new(big.Int).Mul(a, d))
	}

	k := new(big.Int).Quo(new(big.Int).Sub(limit, q0), q1)
	bound1 := new(big.Rat).SetFrac(
		new(big.Int).Add(p0, new(big.Int).Mul(k, p1)),
		new(big.Int).Add(q0, new(big.Int).Mul(k, q1)),
	)
	bound2 := new(big.Rat).SetFrac(p1, q1)

	diff1 := new(big.Rat).Abs(new(big.Rat).Sub(bound1, r))
	diff2 := new(big.Rat).Abs(new(big.Rat).Sub(bound2, r))
	if diff2.Cmp(diff1) <= 0 {
		return bound2.Num().Int64(), bound2.Denom().Int64()
	}
	return bound1.Num().Int64(), bound1.Denom().Int64()
}
