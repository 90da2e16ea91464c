package workflow

import (
	"fmt"

	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
)

// CanEditReport — validated отчёт неизменяем.
func CanEditReport(s model.ReportStatus) error {
	if s == model.ReportValidated {
		return errs.ErrReportLocked
	}
	return nil
}

// CanValidateReport: (noop=true) если уже validated, иначе разрешено из draft/submitted/rejected.
func CanValidateReport(s model.ReportStatus) (noop bool, err error) {
	switch s {
	case model.ReportValidated:
		return true, nil
	case model.ReportDraft, model.ReportSubmitted, model.ReportRejected:
		return false, nil
	}
	return false, fmt.Errorf("report %s -> %s: %w", s, model.ReportValidated, errs.ErrInvalidTransition)
}

func CanRejectReport(s model.ReportStatus) error {
	switch s {
	case model.ReportDraft, model.ReportSubmitted, model.ReportRejected:
		return nil
	case model.ReportValidated:
		return errs.ErrReportLocked
	}
	return fmt.Errorf("report %s -> %s: %w", s, model.ReportRejected, errs.ErrInvalidTransition)
}

// SubmittedStatus нормализует статус, присланный техником: только draft или submitted.
func SubmittedStatus(requested string) (model.ReportStatus, error) {
	switch model.ReportStatus(requested) {
	case "", model.ReportSubmitted:
		return model.ReportSubmitted, nil
	case model.ReportDraft:
		return model.ReportDraft, nil
	}
	return "", fmt.Errorf("report status %q: %w", requested, errs.ErrValidation)
}
