package shared

import (
	"fmt"

	"github.com/giip/giip-backend/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = fmt.Errorf("not found: %w", httpx.ErrNotFound)
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", httpx.ErrUnauthorized)
	// ErrAuthenticationRequired indicates a request without a usable principal.
	ErrAuthenticationRequired = fmt.Errorf("authentication required: %w", httpx.ErrUnauthorized)
)
