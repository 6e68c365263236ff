package discovery

import (
	"fmt"

	"github.com/harborlight-collective/grantscout/internal/model"
)

// Pre-screen rejection reason codes.
const (
	ReasonAwardTooSmall = "award_ceiling_below_floor"
)

// Prescreen applies the deterministic, zero-cost rejection rules to
// extracted fields before the scoring stage is paid for. It bounds cost;
// the organization's actual eligibility logic lives in the scoring prompt.
func Prescreen(fields *model.ExtractedFields, minAwardCeiling float64) (bool, string) {
	if fields.AwardCeiling != nil && *fields.AwardCeiling < minAwardCeiling {
		return true, fmt.Sprintf("%s: %.0f < %.0f", ReasonAwardTooSmall, *fields.AwardCeiling, minAwardCeiling)
	}
	return false, ""
}
