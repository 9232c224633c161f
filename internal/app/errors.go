package app

import "errors"

var (
	// ErrInvalidInput marks malformed or missing request input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNameTaken is returned when a signup name is already registered.
	// Distinct from validation so handlers can answer with a conflict status.
	ErrNameTaken = errors.New("name already taken")

	ErrUserNotFound         = errors.New("user not found")
	ErrThreadNotFound       = errors.New("thread not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")

	// ErrForbidden is returned when a user's role does not allow the action.
	ErrForbidden = errors.New("operation not allowed for this role")
)
