// Package validation provides input validation for the Lumenguard API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxDescriptionLength bounds free-text fields on community reports.
const MaxDescriptionLength = 2000

var (
	// accountRegex validates ed25519 account IDs (G + 55 base32 chars)
	accountRegex = regexp.MustCompile(`^G[A-Z2-7]{55}$`)
	// contractRegex validates contract IDs (C + 55 base32 chars)
	contractRegex = regexp.MustCompile(`^C[A-Z2-7]{55}$`)
	// assetCodeRegex validates asset codes (1-12 alphanumeric)
	assetCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9]{1,12}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountID checks if a string is a valid ledger account ID.
func IsValidAccountID(id string) bool {
	return accountRegex.MatchString(id)
}

// IsValidContractID checks if a string is a valid contract ID.
func IsValidContractID(id string) bool {
	return contractRegex.MatchString(id)
}

// IsValidAssetCode checks if a string is a valid asset code.
func IsValidAssetCode(code string) bool {
	return assetCodeRegex.MatchString(code)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAccount checks if a field is a valid account ID.
func ValidAccount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAccountID(value) {
			return &ValidationError{Field: field, Message: "must be a valid account ID (G + 55 base32 chars)"}
		}
		return nil
	}
}

// ValidAsset checks code and issuer together. The sentinel "native" issuer
// is accepted for the native currency.
func ValidAsset(codeField, code, issuerField, issuer string) func() *ValidationError {
	return func() *ValidationError {
		if code == "" && issuer == "" {
			return nil
		}
		if !IsValidAssetCode(code) {
			return &ValidationError{Field: codeField, Message: "must be 1-12 alphanumeric characters"}
		}
		if issuer != "native" && !IsValidAccountID(issuer) {
			return &ValidationError{Field: issuerField, Message: "must be a valid issuer account ID or \"native\""}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidAmount checks if a value is a valid positive decimal amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		decimalCount := 0
		hasNonZero := false
		for i, c := range value {
			if c == '.' {
				decimalCount++
				if decimalCount > 1 || i == 0 || i == len(value)-1 {
					return &ValidationError{Field: field, Message: "invalid amount format"}
				}
				continue
			}
			if c < '0' || c > '9' {
				return &ValidationError{Field: field, Message: "invalid amount format"}
			}
			if c != '0' {
				hasNonZero = true
			}
		}
		if !hasNonZero {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// AddressParamMiddleware validates the :address URL parameter on routes that
// use it, rejecting malformed account IDs before any signal fetch runs.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidAccountID(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid account ID (G + 55 base32 chars)",
			})
			return
		}
		c.Next()
	}
}
