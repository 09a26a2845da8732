package auth

import (
	"unicode"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 8
	// PinLength is the exact number of digits in a terminal PIN
	PinLength = 4
)

// CredentialValidationError represents a specific credential policy failure
type CredentialValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CredentialPolicy checks new passwords and PINs before they are hashed
type CredentialPolicy struct{}

// NewCredentialPolicy creates a new CredentialPolicy instance
func NewCredentialPolicy() *CredentialPolicy {
	return &CredentialPolicy{}
}

// ValidatePassword checks if a password meets all complexity requirements.
// Returns a list of validation errors (empty if password is valid).
func (v *CredentialPolicy) ValidatePassword(password string) []CredentialValidationError {
	var errs []CredentialValidationError

	if len(password) < MinPasswordLength {
		errs = append(errs, CredentialValidationError{
			Field:   "password",
			Message: "Password must be at least 8 characters long",
		})
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errs = append(errs, CredentialValidationError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter",
		})
	}
	if !hasLower {
		errs = append(errs, CredentialValidationError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter",
		})
	}
	if !hasNumber {
		errs = append(errs, CredentialValidationError{
			Field:   "password",
			Message: "Password must contain at least one number",
		})
	}
	if !hasSpecial {
		errs = append(errs, CredentialValidationError{
			Field:   "password",
			Message: "Password must contain at least one special character",
		})
	}

	return errs
}

// ValidatePIN checks that pin is exactly four ASCII digits
func (v *CredentialPolicy) ValidatePIN(pin string) []CredentialValidationError {
	if !IsValidPIN(pin) {
		return []CredentialValidationError{{
			Field:   "pin",
			Message: "PIN must be exactly 4 digits",
		}}
	}
	return nil
}

// IsValidPassword returns true if the password meets all requirements
func (v *CredentialPolicy) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}

// IsValidPIN reports whether pin is exactly four ASCII digits.
func IsValidPIN(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
