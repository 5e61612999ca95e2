package radius

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no valid reply arrived within the retry budget. An
	// authentication that ends this way is a deny.
	ErrTimeout = errors.New("radius: no response from server")

	// ErrProtocol covers malformed packets and failed integrity checks.
	ErrProtocol = errors.New("radius: protocol error")

	ErrMalformed        = fmt.Errorf("%w: malformed packet", ErrProtocol)
	ErrBadAuthenticator = fmt.Errorf("%w: response authenticator mismatch", ErrProtocol)
	ErrBadMessageAuth   = fmt.Errorf("%w: message-authenticator mismatch", ErrProtocol)
	ErrUnexpectedCode   = fmt.Errorf("%w: unexpected response code", ErrProtocol)

	ErrAttributeTooLong = errors.New("radius: attribute value exceeds 253 bytes")
	ErrPasswordTooLong  = errors.New("radius: password exceeds 128 bytes")
)
