package dispatch

// Kind classifies why an event was rejected before, at, or inside dispatch.
type Kind int

const (
	// KindModeration: the connection's user or IP is sealed or banned.
	KindModeration Kind = iota + 1
	// KindUnauthenticated: the handler requires a logged-in user.
	KindUnauthenticated
	// KindForbidden: the handler requires administrator rights.
	KindForbidden
	// KindRateLimited: the subject exceeded its window ceiling.
	KindRateLimited
	// KindUnknownEvent: no route matches the event name.
	KindUnknownEvent
	// KindHandler: the resolved handler raised a domain error.
	KindHandler
	// KindDependency: a backing store timed out or failed.
	KindDependency
)

// String returns the metrics label for the kind.
func (k Kind) String() string {
	switch k {
	case KindModeration:
		return "moderation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindUnknownEvent:
		return "unknown_event"
	case KindHandler:
		return "handler_error"
	case KindDependency:
		return "dependency_failure"
	default:
		return "unknown"
	}
}

// Rejection is the internal error sum type for refused events. It is only
// collapsed to the wire's plain-string convention at the serialization
// boundary; everything inside the gateway keeps the kind.
type Rejection struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return r.Message
}

// Reject builds a Rejection.
func Reject(kind Kind, message string) *Rejection {
	return &Rejection{Kind: kind, Message: message}
}

// Canonical rejection messages. These are the exact strings clients see, so
// they are deterministic and human-readable.
const (
	MsgSealed       = "you have been sealed, contact the administrator"
	MsgLoginNeeded  = "login required"
	MsgAdminNeeded  = "administrator privileges required"
	MsgRateLimited  = "too many requests, slow down"
	MsgDependency   = "service temporarily unavailable"
)
