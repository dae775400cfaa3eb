package rbac

import (
	"errors"
	"fmt"

	"github.com/giip/giip-backend/internal/platform/httpx"
)

var (
	// ErrStoreUnavailable indicates the authoritative store could not be reached.
	ErrStoreUnavailable = fmt.Errorf("rbac: store unavailable: %w", httpx.ErrUnavailable)
	// ErrRoleNotFound indicates the role does not exist.
	ErrRoleNotFound = fmt.Errorf("rbac: role not found: %w", httpx.ErrNotFound)
	// ErrPermissionNotFound indicates the permission does not exist.
	ErrPermissionNotFound = fmt.Errorf("rbac: permission not found: %w", httpx.ErrNotFound)
	// ErrDuplicateRole indicates a role with the same name already exists.
	ErrDuplicateRole = fmt.Errorf("rbac: role already exists: %w", httpx.ErrDuplicate)
	// ErrInvalidRoleName is returned for blank role names.
	ErrInvalidRoleName = fmt.Errorf("rbac: role name required: %w", httpx.ErrValidation)
)

// unavailable wraps a lower-level failure so errors.Is(err, ErrStoreUnavailable) holds
// while the cause stays inspectable.
func unavailable(op string, err error) error {
	return &storeError{op: op, err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("rbac: %s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

// IsStoreUnavailable reports whether err originates from a store I/O failure.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
