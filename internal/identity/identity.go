package identity

import "context"

// Identity is an authenticated principal: the provider-assigned unique id
// plus the email it was verified with.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Provider verifies credentials against the hosted auth service. Sign-out has
// no provider-side call in this dialect; dropping the session is enough.
type Provider interface {
	SignIn(ctx context.Context, email, secret string) (Identity, error)
	CreateAccount(ctx context.Context, email, secret string) (Identity, error)
}

// Category buckets provider error codes into the fixed set of user-facing
// credential failures.
type Category string

const (
	CategoryInvalidFormat Category = "invalid-format"
	CategoryDisabled      Category = "disabled"
	CategoryNotFound      Category = "not-found"
	CategoryWrongSecret   Category = "wrong-secret"
	CategoryRateLimited   Category = "rate-limited"
	CategoryGeneric       Category = "generic"
)

// CredentialError is a provider failure mapped to a user-facing category.
type CredentialError struct {
	Category Category
	Code     string // raw provider code, for logs
}

// Error returns the user-facing message for the category.
func (e *CredentialError) Error() string {
	switch e.Category {
	case CategoryInvalidFormat:
		return "Invalid email address format."
	case CategoryDisabled:
		return "This account has been disabled."
	case CategoryNotFound:
		return "No account found with this email."
	case CategoryWrongSecret:
		return "Incorrect password."
	case CategoryRateLimited:
		return "Too many failed attempts. Please try again later."
	default:
		return "An error occurred during sign in. Please try again."
	}
}
