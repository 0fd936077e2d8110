package accounts

import "strings"

// Error codes reported in IdentityError.Code
const (
	ErrCodeDuplicateEmail                  = "DuplicateEmail"
	ErrCodeDuplicateUserName               = "DuplicateUserName"
	ErrCodeInvalidEmail                    = "InvalidEmail"
	ErrCodeInvalidToken                    = "InvalidToken"
	ErrCodePasswordTooShort                = "PasswordTooShort"
	ErrCodePasswordRequiresDigit           = "PasswordRequiresDigit"
	ErrCodePasswordRequiresLower           = "PasswordRequiresLower"
	ErrCodePasswordRequiresUpper           = "PasswordRequiresUpper"
	ErrCodePasswordRequiresNonAlphanumeric = "PasswordRequiresNonAlphanumeric"
	ErrCodePasswordRequiresUniqueChars     = "PasswordRequiresUniqueChars"
	ErrCodeUserAlreadyInRole               = "UserAlreadyInRole"
	ErrCodeUserLockedOut                   = "UserLockedOut"
)

// IdentityError is a rejection reported by the UserManager.  These are expected
// outcomes (weak password, bad token) rather than failures of the system.
type IdentityError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// String renders the error the way it is shown to users: "<code> <description>"
func (e IdentityError) String() string {
	return e.Code + " " + e.Description
}

// IdentityResult is the outcome of a UserManager mutation
type IdentityResult struct {
	Succeeded bool            `json:"succeeded"`
	Errors    []IdentityError `json:"errors,omitempty"`
}

// Success is the IdentityResult of an operation that went through
func Success() IdentityResult {
	return IdentityResult{Succeeded: true}
}

// Failed builds a failed IdentityResult
func Failed(errs ...IdentityError) IdentityResult {
	return IdentityResult{Succeeded: false, Errors: errs}
}

// Messages returns every error rendered with IdentityError.String
func (r IdentityResult) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

// HasCode returns true if any error carries the code
func (r IdentityResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (r IdentityResult) String() string {
	if r.Succeeded {
		return "Succeeded"
	}
	return "Failed: " + strings.Join(r.Messages(), ", ")
}

func errDuplicateEmail(email string) IdentityError {
	return IdentityError{ErrCodeDuplicateEmail, "Email '" + email + "' is already taken."}
}

func errDuplicateUserName(name string) IdentityError {
	return IdentityError{ErrCodeDuplicateUserName, "Username '" + name + "' is already taken."}
}

func errInvalidEmail(email string) IdentityError {
	return IdentityError{ErrCodeInvalidEmail, "Email '" + email + "' is invalid."}
}

func errInvalidToken() IdentityError {
	return IdentityError{ErrCodeInvalidToken, "Invalid token."}
}

func errUserAlreadyInRole(role Role) IdentityError {
	return IdentityError{ErrCodeUserAlreadyInRole, "User already in role '" + string(role) + "'."}
}
