// Package amount implements the canonical decimal-amount format from §3:
// a string matching ^\d+(\.\d{1,4})?$, interpreted as a fixed-point integer
// scaled by 10,000. All arithmetic is done on the scaled int64 so no
// floating-point rounding ever enters a conservation-sensitive path.
package amount

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Scale is the fixed-point scale factor applied to canonical amounts.
const Scale = 10_000

var pattern = regexp.MustCompile(`^\d+(\.\d{1,4})?$`)

// Valid reports whether s matches the canonical amount grammar.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Parse converts a canonical amount string into its scaled integer form.
func Parse(s string) (int64, error) {
	if !pattern.MatchString(s) {
		return 0, fmt.Errorf("amount: %q does not match canonical grammar", s)
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount: invalid whole part: %w", err)
	}
	scaled := whole * Scale
	if len(parts) == 2 {
		frac := parts[1] + strings.Repeat("0", 4-len(parts[1]))
		fracVal, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount: invalid fractional part: %w", err)
		}
		scaled += fracVal
	}
	return scaled, nil
}

// Format renders a scaled integer amount back into canonical form, always
// padding to four fractional digits.
func Format(scaled int64) string {
	whole := scaled / Scale
	frac := scaled % Scale
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%04d", whole, frac)
}
