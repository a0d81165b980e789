package payments

import (
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// edges lists every legal payment transition. Anything else is a conflict.
var edges = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusCreated: {
		enums.PaymentStatusRequires3DS,
		enums.PaymentStatusAuthorized,
		enums.PaymentStatusFailed,
	},
	enums.PaymentStatusRequires3DS: {
		enums.PaymentStatusAuthorized,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusAuthorized: {
		enums.PaymentStatusCaptured,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusCaptured: {
		enums.PaymentStatusRefunded,
		enums.PaymentStatusPartiallyRefunded,
	},
	enums.PaymentStatusPartiallyRefunded: {
		enums.PaymentStatusRefunded,
		enums.PaymentStatusPartiallyRefunded,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can be reached from from in one or more steps.
// A status is considered reachable from itself.
func Reachable(from, to enums.PaymentStatus) bool {
	if from == to {
		return true
	}
	seen := map[enums.PaymentStatus]bool{from: true}
	queue := []enums.PaymentStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves status.
func IsTerminal(status enums.PaymentStatus) bool {
	return len(edges[status]) == 0
}

// timestampColumn is the per-transition timestamp written alongside the status.
func timestampColumn(to enums.PaymentStatus) string {
	switch to {
	case enums.PaymentStatusRequires3DS:
		return "three_ds_started_at"
	case enums.PaymentStatusAuthorized:
		return "authorized_at"
	case enums.PaymentStatusCaptured:
		return "captured_at"
	case enums.PaymentStatusCancelled:
		return "cancelled_at"
	case enums.PaymentStatusRefunded, enums.PaymentStatusPartiallyRefunded:
		return "refunded_at"
	case enums.PaymentStatusFailed:
		return "failed_at"
	}
	return ""
}
