// Package errors provides structured error handling for searchlab.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Tool dispatch and execution errors
//   - 3XX: Persistence errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryTool indicates tool dispatch and execution errors.
	CategoryTool Category = "TOOL"
	// CategoryStore indicates persistence-layer errors.
	CategoryStore Category = "STORE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199). Fatal at startup, before any run.
	ErrCodeConfigNotFound        = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid         = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigDuplicateDomain = "ERR_103_CONFIG_DUPLICATE_DOMAIN"
	ErrCodeSearchSpaceInvalid    = "ERR_104_SEARCH_SPACE_INVALID"

	// Tool errors (200-299). Fatal to a stage, contained by the executor.
	ErrCodeDomainNotAvailable = "ERR_201_DOMAIN_NOT_AVAILABLE"
	ErrCodeToolExecution      = "ERR_202_TOOL_EXECUTION"
	ErrCodeToolTimeout        = "ERR_203_TOOL_TIMEOUT"
	ErrCodeToolInput          = "ERR_204_TOOL_INPUT"

	// Store errors (300-399). Escalated, never silently dropped.
	ErrCodeStoreWrite   = "ERR_301_STORE_WRITE"
	ErrCodeStoreRead    = "ERR_302_STORE_READ"
	ErrCodeStoreCorrupt = "ERR_303_STORE_CORRUPT"
	ErrCodeStoreLocked  = "ERR_304_STORE_LOCKED"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPipeline = "ERR_402_INVALID_PIPELINE"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeTrialFailed = "ERR_502_TRIAL_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryTool
	case '3':
		return CategoryStore
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Config and store errors abort the enclosing operation; tool errors are
// contained per stage.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryStore:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried with backoff.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreWrite, ErrCodeStoreLocked, ErrCodeToolTimeout:
		return true
	default:
		return false
	}
}
