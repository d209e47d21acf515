package truth

import (
	"fmt"

	"github.com/yourorg/evidence-worker/internal/model"
)

// RequireValidForExport returns nil when md may be exported. VALID outputs
// always pass, DEGRADED and EXPIRED outputs pass only with operator
// acknowledgment, and everything else, BLOCKED included, is refused.
func RequireValidForExport(md model.OutputTruthMetadata, operatorAcknowledged bool) error {
	switch md.ValidityStatus {
	case model.Valid:
		return nil
	case model.Degraded, model.Expired:
		if operatorAcknowledged {
			return nil
		}
		return blocked(md, fmt.Sprintf("validity status %s requires operator acknowledgment", md.ValidityStatus))
	case model.Blocked:
		return blocked(md, "validity status BLOCKED can never be exported")
	}
	return blocked(md, fmt.Sprintf("unrecognised validity status %q", md.ValidityStatus))
}

func blocked(md model.OutputTruthMetadata, fallback string) *ExportBlockedError {
	reasons := append([]string(nil), md.Reasons...)
	if len(reasons) == 0 {
		reasons = []string{fallback}
	}
	return &ExportBlockedError{Status: md.ValidityStatus, Reasons: reasons}
}
