package publish

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy for a SchedulePost call. Validation, not-found,
// no-connected-accounts, provider-unavailable and submission failures are
// all-or-nothing: persisted state is left exactly as it was before the call.
// Media staging failures are per-URL and non-fatal. ErrScheduleRecord is the
// one partial condition: the provider accepted the fan-out post but recording
// it locally failed, so operators must reconcile manually.
var (
	ErrValidation          = errors.New("validation_failed")
	ErrNotFound            = errors.New("content_not_found")
	ErrNotApproved         = errors.New("not_approved")
	ErrAlreadySubmitted    = errors.New("already_submitted")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrMediaStaging        = errors.New("media_staging_failed")
	ErrPublishSubmission   = errors.New("publish_submission_failed")
	ErrScheduleRecord      = errors.New("submitted_not_recorded")
)

// NoConnectedAccountsError is returned when none of the requested platforms
// resolve to a connected provider account. Nothing is submitted or persisted
// in that case.
type NoConnectedAccountsError struct {
	Requested []string
}

func (e *NoConnectedAccountsError) Error() string {
	return fmt.Sprintf("no_connected_accounts: %s", strings.Join(e.Requested, ","))
}
