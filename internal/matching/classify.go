package matching

import (
	"strings"

	"github.com/richoz-sanitaire/intervention-service/internal/model"
)

type Kind string

const (
	KindIntervention Kind = "intervention"
	KindInfo         Kind = "info"
)

// ClassifyEmail: явное email_type, иначе подсказка из extracted_data, иначе info.
func ClassifyEmail(emailType *string, extracted model.ExtractedData) Kind {
	declared := ""
	if emailType != nil {
		declared = strings.TrimSpace(*emailType)
	}
	if declared == "" {
		declared = strings.TrimSpace(extracted.EmailType)
	}
	if strings.EqualFold(declared, string(KindIntervention)) {
		return KindIntervention
	}
	return KindInfo
}

func Classify(e *model.EmailInbox) Kind {
	return ClassifyEmail(e.EmailType, e.ExtractedData.Data())
}

// PriorityOf оценивает приоритет заявки: "urgent" в теме или в извлечённых полях -> срочно.
func PriorityOf(subject string, extracted model.ExtractedData) int {
	if extracted.Priority == "critical" || extracted.Urgency == "critical" {
		return model.PriorityCritical
	}
	if strings.Contains(Fold(subject), "urgent") ||
		strings.EqualFold(extracted.Priority, "urgent") ||
		strings.EqualFold(extracted.Urgency, "urgent") {
		return model.PriorityUrgent
	}
	return model.PriorityNormal
}
