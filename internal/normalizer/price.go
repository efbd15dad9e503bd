package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/showgrid/event-indexer/internal/domain"
)

var (
	priceRangeRe  = regexp.MustCompile(`\$?\s*(\d+(?:\.\d{1,2})?)\s*[-–—]\s*\$?\s*(\d+(?:\.\d{1,2})?)`)
	priceSingleRe = regexp.MustCompile(`\$\s*(\d+(?:\.\d{1,2})?)|(\d+(?:\.\d{1,2})?)\s*(?:dollars|usd)`)
	priceBareRe   = regexp.MustCompile(`^\s*(\d+(?:\.\d{1,2})?)\s*$`)
)

// ParsePrice parses free-text price into a (min, max, currency) triple.
// "free" maps to (0, 0); "donation" and unparseable text map to (nil, nil)
// with the raw text retained for display fallback.
func ParsePrice(text string) domain.PriceRange {
	raw := strings.TrimSpace(text)
	price := domain.PriceRange{Currency: "USD", Raw: raw}
	if raw == "" {
		price.Raw = ""
		return price
	}

	lower := strings.ToLower(raw)

	if strings.Contains(lower, "free") {
		zero := 0.0
		price.Min, price.Max = &zero, &zero
		return price
	}

	// Donation-based pricing has no fixed range; the raw text is the display
	if strings.Contains(lower, "donation") || strings.Contains(lower, "pay what you") {
		return price
	}

	if m := priceRangeRe.FindStringSubmatch(raw); m != nil {
		min, err1 := strconv.ParseFloat(m[1], 64)
		max, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil {
			if min > max {
				min, max = max, min
			}
			price.Min, price.Max = &min, &max
			return price
		}
	}

	// "suggested $15" and plain "$15" both resolve to a single value
	if m := priceSingleRe.FindStringSubmatch(lower); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if v, err := strconv.ParseFloat(digits, 64); err == nil {
			value := v
			price.Min, price.Max = &value, &value
			return price
		}
	}

	if m := priceBareRe.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			value := v
			price.Min, price.Max = &value, &value
			return price
		}
	}

	// Unparseable: keep the raw text, no range
	return price
}
