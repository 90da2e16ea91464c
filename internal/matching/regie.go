package matching

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
)

// MatchRegie находит регию по адресу отправителя.
// Сначала точное совпадение с email_contact (без учёта регистра) по всем активным региям,
// затем домен отправителя против email_domains. Регии перебираются по имени, затем по id,
// поэтому при нескольких совпадениях результат детерминирован.
// Адрес без '@' — не ошибка, просто nil.
func MatchRegie(sender string, regies []model.Regie) *uuid.UUID {
	sender = strings.ToLower(strings.TrimSpace(sender))
	domain, ok := domainOf(sender)
	if !ok {
		return nil
	}
	ordered := activeSorted(regies)
	for i := range ordered {
		if c := strings.ToLower(strings.TrimSpace(ordered[i].EmailContact)); c != "" && c == sender {
			id := ordered[i].ID
			return &id
		}
	}
	for i := range ordered {
		for _, d := range ordered[i].EmailDomains {
			if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(d), "@"), domain) {
				id := ordered[i].ID
				return &id
			}
		}
	}
	return nil
}

// MatchKeyword ищет активную регию по ключевому слову без учёта регистра и диакритики.
func MatchKeyword(keyword string, regies []model.Regie) *uuid.UUID {
	k := Fold(keyword)
	if k == "" {
		return nil
	}
	ordered := activeSorted(regies)
	for i := range ordered {
		if Fold(ordered[i].Keyword) == k {
			id := ordered[i].ID
			return &id
		}
	}
	return nil
}

func activeSorted(regies []model.Regie) []model.Regie {
	out := make([]model.Regie, 0, len(regies))
	for _, r := range regies {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := Fold(out[i].Name), Fold(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
