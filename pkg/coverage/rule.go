package coverage

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DefaultMinimum is the line coverage ratio required when none is configured.
const DefaultMinimum = "0.8"

// Counter and value names follow the JaCoCo violation rule vocabulary.
const (
	CounterLine       = "LINE"
	ValueCoveredRatio = "COVEREDRATIO"
)

// Rule is a minimum applied to a coverage counter. The zero value is not
// usable; build rules with NewRule or ParseRule.
type Rule struct {
	Counter string
	Value   string
	minimum *big.Rat
	text    string
}

// NewRule returns a LINE/COVEREDRATIO rule with the given minimum.
func NewRule(minimum float64) (Rule, error) {
	return ParseRule(strconv.FormatFloat(minimum, 'f', -1, 64))
}

// ParseRule parses a decimal minimum such as "0.8" exactly.
func ParseRule(minimum string) (Rule, error) {
	text := strings.TrimSpace(minimum)
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return Rule{}, Configf("invalid minimum coverage ratio %q", minimum)
	}
	if r.Sign() < 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return Rule{}, Configf("minimum coverage ratio %s outside [0,1]", text)
	}
	return Rule{Counter: CounterLine, Value: ValueCoveredRatio, minimum: r, text: FormatRatio(r)}, nil
}

// DefaultRule returns the 0.8 line coverage rule.
func DefaultRule() Rule {
	r, _ := ParseRule(DefaultMinimum)
	return r
}

// Minimum returns the threshold as a decimal string.
func (r Rule) Minimum() string { return r.text }

// MinimumFloat returns the threshold as float64.
func (r Rule) MinimumFloat() float64 {
	if r.minimum == nil {
		return 0
	}
	f, _ := r.minimum.Float64()
	return f
}

// Check returns nil when c meets the minimum, otherwise a
// *CoverageThresholdError for task. A counter with no eligible lines has
// nothing to violate and passes.
func (r Rule) Check(task string, c Counter) error {
	if r.minimum == nil {
		return Configf("coverage rule for %s has no minimum", task)
	}
	ratio, ok := c.Ratio()
	if !ok {
		return nil
	}
	if ratio.Cmp(r.minimum) >= 0 {
		return nil
	}
	return &CoverageThresholdError{
		Task:     task,
		Measured: FormatRatio(ratio),
		Minimum:  r.text,
		Counter:  c,
	}
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s >= %s", r.Counter, r.Value, r.text)
}
