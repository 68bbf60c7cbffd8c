// Package alert evaluates data-alert notifications: it resolves the alert's
// target entity, drives short-lived per-user analytic sessions, applies
// selections and reduces every configured condition into a single boolean.
package alert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"notigate/internal/backend"
	"notigate/internal/config"
)

// VarianceSign describes which side(s) of the evaluated result the tolerance
// window extends to.
type VarianceSign int

const (
	// SignBoth is a symmetric window around the result.
	SignBoth VarianceSign = iota
	// SignUpperOnly collapses the window to the single upper value.
	// A spec with no sign at all behaves the same way — intentional,
	// matching the established behavior of variance specs like "5%".
	SignUpperOnly
	// SignLowerOnly collapses the window to the single lower value.
	SignLowerOnly
)

// Variance is the structured form of a tolerance spec such as "±10%", "+5"
// or "-2.5%". Parsing up front removes any ordering assumptions about where
// signs and the percent marker appear in the raw string.
type Variance struct {
	Magnitude float64
	IsPercent bool
	Sign      VarianceSign
}

// ParseVariance parses a raw variance string.
func ParseVariance(raw string) (Variance, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Variance{}, errors.New("empty variance")
	}

	v := Variance{IsPercent: strings.Contains(s, "%")}

	hasPlus := strings.Contains(s, "+")
	hasMinus := strings.Contains(s, "-")
	hasBoth := strings.Contains(s, "±") || (hasPlus && hasMinus)
	switch {
	case hasBoth:
		v.Sign = SignBoth
	case hasMinus:
		v.Sign = SignLowerOnly
	default:
		// "+" only, or no sign at all.
		v.Sign = SignUpperOnly
	}

	// Keep only the numeric magnitude.
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	mag, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return Variance{}, fmt.Errorf("variance %q: no numeric magnitude", raw)
	}
	v.Magnitude = mag
	return v, nil
}

// Window computes the inclusive tolerance window around the evaluated
// numeric result r.
func (v Variance) Window(r float64) (lo, hi float64) {
	delta := v.Magnitude
	if v.IsPercent {
		delta = r * v.Magnitude / 100
	}
	switch v.Sign {
	case SignBoth:
		return r - delta, r + delta
	case SignLowerOnly:
		return r - delta, r - delta
	default:
		return r + delta, r + delta
	}
}

// Contains reports whether value lies in the window around r, inclusive on
// both bounds.
func (v Variance) Contains(r, value float64) bool {
	lo, hi := v.Window(r)
	return value >= lo && value <= hi
}

// compareNumeric applies a named comparison operator on numbers.
// "=" and "==" are synonymous, as are "<>" and "!=".
func compareNumeric(op string, got, want float64) (bool, error) {
	switch op {
	case ">":
		return got > want, nil
	case "<":
		return got < want, nil
	case ">=":
		return got >= want, nil
	case "<=":
		return got <= want, nil
	case "==", "=":
		return got == want, nil
	case "!=", "<>":
		return got != want, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// compareText applies a comparison operator on text results. Ordering
// operators are not defined for text.
func compareText(op, got, want string) (bool, error) {
	switch op {
	case "==", "=":
		return got == want, nil
	case "!=", "<>":
		return got != want, nil
	case ">", "<", ">=", "<=":
		return false, fmt.Errorf("operator %q requires a numeric result", op)
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// EvaluateScalar reduces one evaluated expression result against every
// expected result entry (logical AND).
//
// The evaluated value is coerced according to its declared numeric-ness:
// numeric results compare numerically, text results compare as strings.
func EvaluateScalar(res backend.EvalResult, expected []config.ScalarResult) (bool, error) {
	out := true
	for _, exp := range expected {
		if strings.TrimSpace(exp.Variation) != "" {
			if !res.IsNumeric {
				return false, fmt.Errorf("variation %q requires a numeric result (got %q)", exp.Variation, res.Text)
			}
			v, err := ParseVariance(exp.Variation)
			if err != nil {
				return false, err
			}
			want, err := strconv.ParseFloat(strings.TrimSpace(exp.Value), 64)
			if err != nil {
				return false, fmt.Errorf("expected value %q is not numeric: %w", exp.Value, err)
			}
			out = out && v.Contains(res.Number, want)
			continue
		}

		op := strings.TrimSpace(exp.Operator)
		if res.IsNumeric {
			want, err := strconv.ParseFloat(strings.TrimSpace(exp.Value), 64)
			if err != nil {
				return false, fmt.Errorf("expected value %q is not numeric: %w", exp.Value, err)
			}
			ok, err := compareNumeric(op, res.Number, want)
			if err != nil {
				return false, err
			}
			out = out && ok
		} else {
			ok, err := compareText(op, res.Text, exp.Value)
			if err != nil {
				return false, err
			}
			out = out && ok
		}
	}
	return out, nil
}

// reduceList folds per-value search outcomes into the list condition result.
// "present" requires every expected value to be found; "missing" requires
// every expected value to be absent.
func reduceList(operation string, found []bool) bool {
	present := strings.EqualFold(strings.TrimSpace(operation), config.ListPresent)
	for _, f := range found {
		if present && !f {
			return false
		}
		if !present && f {
			return false
		}
	}
	return true
}
