// Package apperr classifies errors the way the session coordinator needs
// to: as either a UserError, which is safe to echo back to the caller in
// an action ack, or anything else, which is an internal error and gets
// logged instead of described.
package apperr

import "fmt"

// UserError is surfaced to the caller as {errorName, errorMessage} in the
// action ack. It is never wrapped around a lower-level error: the whole
// point is that its two fields are safe to put on the wire as-is.
type UserError struct {
	Name    string
	Message string
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func newUserError(name, message string) *UserError {
	return &UserError{Name: name, Message: message}
}

func InvalidAction(action, state string) *UserError {
	return newUserError("InvalidActionError", fmt.Sprintf("action %q is not allowed in state %q", action, state))
}

func Auth(message string) *UserError {
	return newUserError("AuthError", message)
}

func SelfInvite() *UserError {
	return newUserError("SelfInviteError", "cannot invite yourself")
}

func InvalidInvite(message string) *UserError {
	return newUserError("InvalidInviteError", message)
}

func InventoryMismatch(message string) *UserError {
	return newUserError("InventoryMismatchError", message)
}

func CantCompleteEitherUnlocked() *UserError {
	return newUserError("CantCompleteEitherUnlockedError", "both sides must be locked in before completing")
}

func UserAlreadyAuthenticated() *UserError {
	return newUserError("UserAlreadyAuthenticatedError", "a connection for this user is already authenticated")
}
