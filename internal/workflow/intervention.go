// Package workflow — чистые машины состояний интервенций и отчётов, без доступа к БД.
package workflow

import (
	"fmt"

	"github.com/richoz-sanitaire/intervention-service/internal/errs"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
)

var interventionTransitions = map[model.InterventionStatus][]model.InterventionStatus{
	model.InterventionNouveau:     {model.InterventionPlanifie, model.InterventionAnnule},
	model.InterventionPlanifie:    {model.InterventionEnCours, model.InterventionTermine, model.InterventionAnnule},
	model.InterventionEnCours:     {model.InterventionTermine, model.InterventionAnnule},
	model.InterventionTermine:     {model.InterventionTermine, model.InterventionReadyToBill, model.InterventionArchived, model.InterventionAnnule},
	model.InterventionReadyToBill: {model.InterventionBilled, model.InterventionAnnule},
}

// IsTerminal: billed, archived и annule дальше не двигаются.
func IsTerminal(s model.InterventionStatus) bool {
	switch s {
	case model.InterventionBilled, model.InterventionArchived, model.InterventionAnnule:
		return true
	}
	return false
}

func CanTransitionIntervention(from, to model.InterventionStatus) bool {
	for _, s := range interventionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckIntervention возвращает errs.ErrInvalidTransition с контекстом, если переход запрещён.
func CheckIntervention(from, to model.InterventionStatus) error {
	if !CanTransitionIntervention(from, to) {
		return fmt.Errorf("intervention %s -> %s: %w", from, to, errs.ErrInvalidTransition)
	}
	return nil
}

// ValidatedOutcome — единственная развилка после валидации отчёта.
func ValidatedOutcome(billable bool) model.InterventionStatus {
	if billable {
		return model.InterventionReadyToBill
	}
	return model.InterventionArchived
}

// CanSubmitReport: отчёт принимается только для запланированной, начатой или уже завершённой работы.
func CanSubmitReport(s model.InterventionStatus) bool {
	switch s {
	case model.InterventionPlanifie, model.InterventionEnCours, model.InterventionTermine:
		return true
	}
	return false
}
