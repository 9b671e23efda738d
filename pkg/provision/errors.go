package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork reports that no usable response came back from the
	// provisioning service. Callers may retry.
	ErrNetwork = errors.New("provision: network failure")
	// ErrProvisioningFailed reports a business error carried in the response.
	ErrProvisioningFailed = errors.New("provision: request rejected")
	// ErrLicenseExhausted is a ErrProvisioningFailed refinement.
	ErrLicenseExhausted = errors.New("provision: license exhausted")
	// ErrLicenseExpired is a ErrProvisioningFailed refinement.
	ErrLicenseExpired = errors.New("provision: license expired")
	// ErrMalformedResponse reports a response that does not match the schema.
	ErrMalformedResponse = errors.New("provision: malformed response")
	// ErrInvalidIdentity reports missing device identity fields.
	ErrInvalidIdentity = errors.New("provision: invalid device identity")
)

// Server-side error codes with a dedicated meaning.
const (
	CodeLicenseExhausted = 10040
	CodeLicenseExpired   = 10041
)

// Kind classifies a server-reported failure.
type Kind int

const (
	KindGeneric Kind = iota
	KindLicenseExhausted
	KindLicenseExpired
)

func (k Kind) String() string {
	switch k {
	case KindLicenseExhausted:
		return "license_exhausted"
	case KindLicenseExpired:
		return "license_expired"
	default:
		return "generic"
	}
}

func kindForCode(code int) Kind {
	switch code {
	case CodeLicenseExhausted:
		return KindLicenseExhausted
	case CodeLicenseExpired:
		return KindLicenseExpired
	default:
		return KindGeneric
	}
}

// Error is returned when the service answers with a non-zero error code.
// It matches ErrProvisioningFailed, and ErrLicenseExhausted or
// ErrLicenseExpired when the code maps to one of them.
type Error struct {
	Action string
	Kind   Kind
	Code   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision: %s failed: %s (code %d)", e.Action, e.Kind, e.Code)
}

// Is lets errors.Is match the sentinels for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrProvisioningFailed:
		return true
	case ErrLicenseExhausted:
		return e.Kind == KindLicenseExhausted
	case ErrLicenseExpired:
		return e.Kind == KindLicenseExpired
	}
	return false
}
