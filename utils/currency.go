package utils

import (
	"fmt"
	"math"
	"strings"
)

// FormatCurrencyIDR formats an amount as Indonesian Rupiah with thousand
// separators, e.g. 230000 -> "Rp 230.000".
func FormatCurrencyIDR(amount float64) string {
	integer := int64(math.Floor(amount))
	decimal := math.Round((amount-math.Floor(amount))*100) / 100

	digits := fmt.Sprintf("%d", integer)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)
	formatted := strings.Join(groups, ".")

	if decimal > 0 {
		return fmt.Sprintf("Rp %s,%02.0f", formatted, decimal*100)
	}
	return fmt.Sprintf("Rp %s", formatted)
}
