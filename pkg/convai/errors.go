package convai

import (
	"errors"

	"github.com/saker-ai/convai/internal/session/fsm"
	"github.com/saker-ai/convai/pkg/provision"
)

var (
	// ErrConfig reports malformed or missing construction fields.
	ErrConfig = errors.New("convai: invalid config")
	// ErrInvalidState reports an operation outside its valid states. The
	// call has no side effects.
	ErrInvalidState = fsm.ErrInvalidState
	// ErrInvalidArgument reports a bad argument to a runtime call.
	ErrInvalidArgument = errors.New("convai: invalid argument")
	// ErrTransport wraps failures reported by the active backend.
	ErrTransport = errors.New("convai: transport failure")
	// ErrModeUnavailable reports a start in a mode with no backend or no
	// config block.
	ErrModeUnavailable = errors.New("convai: transport mode unavailable")
)

// Provisioning errors surfaced by New.
var (
	ErrNetwork            = provision.ErrNetwork
	ErrProvisioningFailed = provision.ErrProvisioningFailed
	ErrLicenseExhausted   = provision.ErrLicenseExhausted
	ErrLicenseExpired     = provision.ErrLicenseExpired
	ErrMalformedResponse  = provision.ErrMalformedResponse
)
