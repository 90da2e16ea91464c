package errs

import "errors"

var (
	ErrInterventionNotFound = errors.New("intervention not found")
	ErrReportNotFound       = errors.New("report not found")
	ErrEmailNotFound        = errors.New("email not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrRegieNotFound        = errors.New("regie not found")
	ErrUserNotFound         = errors.New("user not found")

	// ErrInvalidTransition — переход статуса не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrReportLocked — отчёт уже validated и больше не редактируется.
	ErrReportLocked = errors.New("report is locked")
	// ErrRevisionConflict — отчёт изменён параллельно (ревизия не совпала).
	ErrRevisionConflict      = errors.New("report revision conflict")
	ErrEmailAlreadyProcessed = errors.New("email already processed")

	ErrValidation    = errors.New("validation failed")
	ErrUpstream      = errors.New("upstream call failed")
	ErrNotConfigured = errors.New("upstream not configured")
)
