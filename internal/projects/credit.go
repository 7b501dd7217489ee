package projects

import (
	"math"
	"strconv"
	"strings"
)

// Credit amounts are stored as numeric(14,4).
const (
	CreditScale = 4
	MaxCredit   = 1e10
)

// ValidCredit reports whether v is a positive amount the credit columns hold
// exactly: below MaxCredit with at most CreditScale decimal places in its
// shortest decimal form, so it reads back as the same float64.
func ValidCredit(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v >= MaxCredit {
		return false
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	_, frac, _ := strings.Cut(s, ".")
	return len(frac) <= CreditScale
}
