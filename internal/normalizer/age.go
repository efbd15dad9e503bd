package normalizer

import (
	"strings"

	"github.com/showgrid/event-indexer/internal/domain"
)

// ParseAgeRestriction maps free-text age policy to a canonical value.
func ParseAgeRestriction(text string) domain.AgeRestriction {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return domain.AgeUnknown
	}

	switch {
	case strings.Contains(lower, "all ages"), strings.Contains(lower, "all-ages"), strings.Contains(lower, "family"):
		return domain.AgeAllAges
	case strings.Contains(lower, "21"):
		return domain.Age21Plus
	case strings.Contains(lower, "18"):
		return domain.Age18Plus
	default:
		return domain.AgeUnknown
	}
}
