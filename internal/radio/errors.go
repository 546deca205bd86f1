package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Category identifies the kind of platform failure. The set is closed:
// callers switch on categories, never on raw platform error text.
type Category string

const (
	CategoryDiscoveryFailure        Category = "discovery_failure"
	CategoryNotFound                Category = "not_found"
	CategoryAddressResolutionFailed Category = "address_resolution_failed"
	CategoryLinkFailed              Category = "link_failed"
	CategoryUnreachable             Category = "unreachable"
	CategoryAccessDenied            Category = "access_denied"
	CategoryServiceNotFound         Category = "service_not_found"
	CategoryCharacteristicNotFound  Category = "characteristic_not_found"
	CategoryReadFailed              Category = "read_failed"
	CategoryGeneric                 Category = "generic"
)

// Error is a categorized radio failure. The category carries the semantics;
// Msg and the wrapped cause are for logging only.
type Error struct {
	Category Category
	Msg      string
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Msg, e.Cause)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Category, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Cause)
	default:
		return string(e.Category)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is to compare Error values by Category
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// Predefined sentinel errors, one per category
var (
	ErrDiscoveryFailure        = &Error{Category: CategoryDiscoveryFailure}
	ErrNotFound                = &Error{Category: CategoryNotFound}
	ErrAddressResolutionFailed = &Error{Category: CategoryAddressResolutionFailed}
	ErrLinkFailed              = &Error{Category: CategoryLinkFailed}
	ErrUnreachable             = &Error{Category: CategoryUnreachable}
	ErrAccessDenied            = &Error{Category: CategoryAccessDenied}
	ErrServiceNotFound         = &Error{Category: CategoryServiceNotFound}
	ErrCharacteristicNotFound  = &Error{Category: CategoryCharacteristicNotFound}
	ErrReadFailed              = &Error{Category: CategoryReadFailed}
	ErrGeneric                 = &Error{Category: CategoryGeneric}
)

// NewError builds a categorized error wrapping a platform cause.
func NewError(category Category, msg string, cause error) *Error {
	return &Error{Category: category, Msg: msg, Cause: cause}
}

// CategoryOf extracts the category from an error chain, CategoryGeneric when
// the chain carries no categorized error.
func CategoryOf(err error) Category {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Category
	}
	return CategoryGeneric
}

// Normalize maps known platform error strings to categorized errors. BlueZ and
// the HCI layer report permission and reachability problems as free text, and
// the wording varies between stack versions, so matching is substring-based.
// Already-categorized errors pass through unchanged.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "org.bluez.Error.NotPermitted"),
		containsIgnoreCase(msg, "insufficient authentication"),
		containsIgnoreCase(msg, "insufficient encryption"):
		return NewError(CategoryAccessDenied, "", err)
	case containsIgnoreCase(msg, "host is down"),
		containsIgnoreCase(msg, "connection timed out"),
		containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "connection reset"):
		return NewError(CategoryUnreachable, "", err)
	default:
		return NewError(CategoryGeneric, "", err)
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
