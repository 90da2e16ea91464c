package matching

import (
	"regexp"
	"strings"
)

var (
	titleKeywordRe = regexp.MustCompile(`\[([A-Z]+)\]`)
	titlePrefixRe  = regexp.MustCompile(`\[[A-Z]+\]\s*`)
)

// KeywordFromTitle: "[ACME] Fuite salle de bain" -> "ACME".
func KeywordFromTitle(title string) string {
	m := titleKeywordRe.FindStringSubmatch(title)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// CleanTitle убирает первую метку [KEYWORD] из заголовка события; остальные остаются.
func CleanTitle(title string) string {
	loc := titlePrefixRe.FindStringIndex(title)
	if loc == nil {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(title[:loc[0]] + title[loc[1]:])
}

// StaffAttendees возвращает адреса участников из доменов сотрудников в исходном порядке, в нижнем регистре.
func StaffAttendees(attendees, staffDomains []string) []string {
	var out []string
	for _, a := range attendees {
		domain, ok := domainOf(a)
		if !ok {
			continue
		}
		for _, d := range staffDomains {
			if strings.EqualFold(domain, strings.TrimPrefix(strings.TrimSpace(d), "@")) {
				out = append(out, strings.ToLower(strings.TrimSpace(a)))
				break
			}
		}
	}
	return out
}
