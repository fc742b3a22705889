package httpserver

import (
	"regexp"
	"strconv"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidateJobID validates a job ID path parameter. Job ids are either
// ULIDs minted by the queue or caller-supplied idempotency keys, so the
// charset stays permissive but injection-safe.
func ValidateJobID(jobID string) ValidationResult {
	return validateID("id", "Job ID", jobID, 200)
}

// ValidateAgentID validates an agent (ERP account) ID path parameter.
func ValidateAgentID(userID string) ValidationResult {
	return validateID("user_id", "Agent ID", userID, 100)
}

func validateID(field, label, v string, maxLen int) ValidationResult {
	if v == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: field, Code: "REQUIRED", Message: label + " is required"},
			},
		}
	}
	if len(v) > maxLen {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: field, Code: "TOO_LONG", Message: label + " is too long (max " + strconv.Itoa(maxLen) + " characters)"},
			},
		}
	}
	if !idPattern.MatchString(v) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: field, Code: "INVALID_FORMAT", Message: label + " contains invalid characters"},
			},
		}
	}
	return ValidationResult{Valid: true}
}

// ValidateLimit validates the ?limit= query parameter of list endpoints.
// An empty value is valid; the handler applies its default.
func ValidateLimit(limit string, max int) ValidationResult {
	if limit == "" {
		return ValidationResult{Valid: true}
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n < 1 || n > max {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "limit", Code: "INVALID_FORMAT", Message: "Limit must be between 1 and " + strconv.Itoa(max)},
			},
		}
	}
	return ValidationResult{Valid: true}
}
