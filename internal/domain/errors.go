package domain

import "errors"

var (
	ErrProgressActive    = errors.New("progress indicator already active")
	ErrProgressNotActive = errors.New("progress indicator not active")
	ErrNotOnControlLoop  = errors.New("not on control loop")

	ErrCredentialExpired       = errors.New("credential expired")
	ErrCredentialRevoked       = errors.New("credential revoked")
	ErrReauthorizationDeclined = errors.New("reauthorization declined")
	ErrNotAuthenticated        = errors.New("not authenticated")

	ErrMachineNotFound = errors.New("machine not found")
	ErrInvalidLink     = errors.New("invalid connection link")

	ErrSecretNotFound = errors.New("secret not found")
)

// IsCredentialFailure reports whether err means the current credentials are
// no longer usable and reauthorizing could help.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrCredentialExpired) || errors.Is(err, ErrCredentialRevoked)
}
