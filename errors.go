package reconcile

import (
	"errors"
	"fmt"

	"github.com/xraph/reconcile/resolve"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("reconcile: not found")
	ErrAlreadyExists = errors.New("reconcile: already exists")
	ErrInvalidInput  = errors.New("reconcile: invalid input")

	// Event ledger errors
	ErrEventNotFound    = errors.New("reconcile: event not found")
	ErrDuplicateEvent   = errors.New("reconcile: duplicate event")
	ErrMissingDedupeKey = errors.New("reconcile: event has no dedupe key")

	// Workspace directory errors
	ErrWorkspaceNotFound = errors.New("reconcile: workspace not found")
	ErrUserNotFound      = errors.New("reconcile: user not found")
	ErrNoActiveWorkspace = errors.New("reconcile: user has no active workspace")

	// Billing state errors
	ErrBillingRecordNotFound = errors.New("reconcile: billing record not found")
	ErrMirrorNotFound        = errors.New("reconcile: mirror record not found")
	ErrDunningStateNotFound  = errors.New("reconcile: dunning state not found")

	// Provider errors
	ErrProviderNotConfigured = errors.New("reconcile: provider not configured")
	ErrProviderUnavailable   = errors.New("reconcile: provider unavailable")

	// Store errors
	ErrStoreNotReady     = errors.New("reconcile: store not ready")
	ErrStoreClosed       = errors.New("reconcile: store is closed")
	ErrTransactionFailed = errors.New("reconcile: transaction failed")
	ErrMigrationFailed   = errors.New("reconcile: migration failed")
)

// Outcome codes recorded on event outcomes when a reconciliation pass stops
// short of an effective plan write.
const (
	CodeSessionNotPaidSubscription = "SESSION_NOT_PAID_SUBSCRIPTION"
	CodeSubscriptionNotFound       = "SUBSCRIPTION_NOT_FOUND"
	CodeWorkspaceResolutionFailed  = "WORKSPACE_RESOLUTION_FAILED"
	CodePlanResolutionFailed       = "PLAN_RESOLUTION_FAILED"
	CodePlanSyncNoEffect           = "PLAN_SYNC_NO_EFFECT"
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("reconcile: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "reconcile: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("reconcile: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrWorkspaceNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrBillingRecordNotFound) ||
		errors.Is(err, ErrMirrorNotFound) ||
		errors.Is(err, ErrDunningStateNotFound)
}

// IsResolutionFailure returns true if the error came from workspace or plan
// resolution exhausting its strategies.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, resolve.ErrWorkspaceUnresolved) ||
		errors.Is(err, resolve.ErrPlanUnresolved)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrProviderUnavailable)
}
