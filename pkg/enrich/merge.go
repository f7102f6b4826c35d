package enrich

import (
	"encoding/json"
	"strings"
)

// executiveKeywords drive decision-maker extraction: case-insensitive
// substring match against the contact's title.
var executiveKeywords = []string{
	"ceo", "cto", "cfo", "cmo", "coo", "president", "vp", "director", "head",
}

// mergeCompany applies src over dst last-writer-wins, skipping empty values
// so a sparse provider cannot erase an earlier one's data.
func mergeCompany(dst *Company, src *Company) {
	if src == nil {
		return
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Domain != "" {
		dst.Domain = src.Domain
	}
	if src.Website != "" {
		dst.Website = src.Website
	}
	if src.Industry != "" {
		dst.Industry = src.Industry
	}
	if src.Country != "" {
		dst.Country = src.Country
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Phone != "" {
		dst.Phone = src.Phone
	}
	if src.LinkedIn != "" {
		dst.LinkedIn = src.LinkedIn
	}
	if src.Employees != 0 {
		dst.Employees = src.Employees
	}
	dst.Funding = dst.Funding || src.Funding
	dst.Hiring = dst.Hiring || src.Hiring
	dst.RecentActivity = dst.RecentActivity || src.RecentActivity
}

// personKey is the dedup key: the serialized record with every field
// normalized, so ordering of providers cannot affect the outcome.
func personKey(p Person) string {
	norm := Person{
		Name:     normalize(p.Name),
		Title:    normalize(p.Title),
		Email:    normalize(p.Email),
		Phone:    normalize(p.Phone),
		LinkedIn: normalize(p.LinkedIn),
	}
	b, _ := json.Marshal(norm)
	return string(b)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dedupePeople removes full-value duplicates, keeping first occurrence order.
func dedupePeople(people []Person) []Person {
	seen := make(map[string]struct{}, len(people))
	out := make([]Person, 0, len(people))
	for _, p := range people {
		key := personKey(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// dedupeStrings removes duplicates by normalized value, keeping the first
// spelling encountered.
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := normalize(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// extractDecisionMakers filters people whose title contains an executive
// keyword. The result is always a subset of the input.
func extractDecisionMakers(people []Person) []Person {
	out := make([]Person, 0)
	for _, p := range people {
		title := normalize(p.Title)
		if title == "" {
			continue
		}
		for _, kw := range executiveKeywords {
			if strings.Contains(title, kw) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
