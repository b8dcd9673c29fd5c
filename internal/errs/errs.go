// Package errs defines the abstract error kinds used to classify faults
// across the call-session engine, in the style of the Twilio client's
// Error type but generalized into a wrappable, taxonomy-aware error.
package errs

import "fmt"

// Kind classifies a fault so callers can branch on policy rather than
// on error text.
type Kind int

const (
	// KindUnknown is the zero value; treat like InternalInvariant.
	KindUnknown Kind = iota
	// KindNetworkTransient covers SIP registration and AI websocket drops;
	// callers should reconnect with backoff, never treat it as fatal.
	KindNetworkTransient
	// KindAuthPermanent covers credential failures; do not auto-retry.
	KindAuthPermanent
	// KindProtocolViolation covers malformed or out-of-sequence protocol messages.
	KindProtocolViolation
	// KindCodecUnsupported covers SDP negotiation failing to find a shared codec.
	KindCodecUnsupported
	// KindOverload covers queue overflow; the caller should log and continue.
	KindOverload
	// KindAccessDenied covers blacklist rejection and locked-tool execution.
	KindAccessDenied
	// KindInternalInvariant covers violated invariants; terminate the call, not the process.
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindNetworkTransient:
		return "network_transient"
	case KindAuthPermanent:
		return "auth_permanent"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindCodecUnsupported:
		return "codec_unsupported"
	case KindOverload:
		return "overload"
	case KindAccessDenied:
		return "access_denied"
	case KindInternalInvariant:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

// Fault is an error tagged with a Kind and the operation that produced it.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with a Kind and the operation name that produced it.
func New(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	for err != nil {
		if fault, ok := err.(*Fault); ok {
			f = fault
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return f != nil && f.Kind == kind
}
