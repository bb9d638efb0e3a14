package coverage

import (
	"math/big"
	"strings"
)

// Counter holds missed and covered line counts.
type Counter struct {
	Missed  int `json:"missed"`
	Covered int `json:"covered"`
}

// Total returns missed + covered.
func (c Counter) Total() int { return c.Missed + c.Covered }

// Add returns the element-wise sum.
func (c Counter) Add(o Counter) Counter {
	return Counter{Missed: c.Missed + o.Missed, Covered: c.Covered + o.Covered}
}

// Ratio returns covered/total as an exact rational. ok is false when there are
// no eligible lines.
func (c Counter) Ratio() (r *big.Rat, ok bool) {
	if c.Total() == 0 {
		return nil, false
	}
	return big.NewRat(int64(c.Covered), int64(c.Total())), true
}

// Float returns the covered ratio as float64, 0 when there are no lines.
func (c Counter) Float() float64 {
	r, ok := c.Ratio()
	if !ok {
		return 0
	}
	f, _ := r.Float64()
	return f
}

// FormatRatio prints r with at most ten decimals and no trailing zeros.
func FormatRatio(r *big.Rat) string {
	if r == nil {
		return "n/a"
	}
	s := r.FloatString(10)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
