package app

import "errors"

// Authentication errors shown to the teacher as-is. Credential-category
// errors come from the identity package; these cover the registry and form
// checks around it.
var (
	ErrUnregisteredAccount = errors.New("No registered teacher account matches this email. Please contact your administrator.")
	ErrAccountMismatch     = errors.New("This account does not match our teacher records. Please contact your administrator.")
	ErrPasswordMismatch    = errors.New("Passwords do not match.")
	ErrBackendUnavailable  = errors.New("Service is temporarily unavailable. Please try again later.")
)
