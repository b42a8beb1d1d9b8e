package model

import (
	"errors"
	"fmt"
)

var (
	ErrAdmissionDenied = errors.New("insufficient credits")
	ErrSubmission      = errors.New("job submission failed")
	ErrPoll            = errors.New("status poll failed")
	ErrProviderFailure = errors.New("provider reported failure")
	ErrTimeoutExceeded = errors.New("job exceeded maximum duration")
	ErrBusy            = errors.New("a generation is already in progress")
	ErrNothingToRetry  = errors.New("nothing to retry")
	ErrInvalidRequest  = errors.New("invalid generation request")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidEnvelope = errors.New("invalid assistant envelope")
)

// AdmissionDeniedError carries the numbers needed to route the user to a
// credit purchase flow.
type AdmissionDeniedError struct {
	Cost      int
	Balance   int
	Shortfall int
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("insufficient credits: cost %d, balance %d, shortfall %d", e.Cost, e.Balance, e.Shortfall)
}

func (e *AdmissionDeniedError) Unwrap() error { return ErrAdmissionDenied }

// SubmissionError is returned by job clients when the provider rejects or
// garbles a submission.
type SubmissionError struct {
	Provider   ProviderKind
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s submission failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s submission failed: %s", e.Provider, e.Message)
}

func (e *SubmissionError) Unwrap() error { return ErrSubmission }

func (e *JobError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap maps the captured code back onto its sentinel.
func (e *JobError) Unwrap() error {
	switch e.Code {
	case JobErrorSubmission:
		return ErrSubmission
	case JobErrorProvider:
		return ErrProviderFailure
	case JobErrorTimeout:
		return ErrTimeoutExceeded
	default:
		return nil
	}
}
