package monitor

import (
	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
)

// disposition is the classifier verdict for one failed device attempt: the
// sanitized status to surface, whether the cached link is discarded, and
// whether another attempt can change the outcome.
type disposition struct {
	status     registry.Status
	breaksLink bool
	retryable  bool
}

// classify maps a platform failure into the closed status set and decides the
// cached link's fate.
//
// Link-preserving verdicts mean the peripheral is connected but genuinely
// lacks the battery profile: retrying is pointless (the outcome is
// deterministic) and dropping the link would only cause reconnection churn.
// Everything else is link-breaking; the next cycle re-resolves and redials.
// Ambiguous platform errors are treated conservatively as link-breaking.
func classify(err error) disposition {
	switch radio.CategoryOf(err) {
	case radio.CategoryServiceNotFound, radio.CategoryCharacteristicNotFound:
		return disposition{status: registry.StatusConnectedNoBatteryService, breaksLink: false, retryable: false}
	case radio.CategoryNotFound, radio.CategoryAddressResolutionFailed, radio.CategoryLinkFailed:
		return disposition{status: registry.StatusDisconnected, breaksLink: true, retryable: true}
	case radio.CategoryReadFailed, radio.CategoryUnreachable:
		return disposition{status: registry.StatusUnreachable, breaksLink: true, retryable: true}
	case radio.CategoryAccessDenied:
		return disposition{status: registry.StatusAccessDenied, breaksLink: true, retryable: true}
	default:
		return disposition{status: registry.StatusError, breaksLink: true, retryable: true}
	}
}
