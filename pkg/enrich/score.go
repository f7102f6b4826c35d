package enrich

import (
	"math"
	"strings"
)

// ScoreFactors are the seven 0-100 sub-scores behind the lead score.
type ScoreFactors struct {
	CompanySize         int `json:"companySize"`
	Seniority           int `json:"seniority"`
	Industry            int `json:"industry"`
	Location            int `json:"location"`
	ContactQuality      int `json:"contactQuality"`
	IntentSignals       int `json:"intentSignals"`
	EngagementPotential int `json:"engagementPotential"`
}

// Fixed factor weights; they sum to 1.0.
const (
	weightCompanySize         = 0.15
	weightSeniority           = 0.25
	weightIndustry            = 0.15
	weightLocation            = 0.10
	weightContactQuality      = 0.20
	weightIntentSignals       = 0.10
	weightEngagementPotential = 0.05
)

// DefaultScore is the fallback when scoring cannot run at all.
const DefaultScore = 50

var highValueIndustries = []string{
	"software", "saas", "technology", "fintech", "finance", "healthcare", "biotech",
}

var mediumValueIndustries = []string{
	"manufacturing", "logistics", "retail", "ecommerce", "real estate", "education",
}

var highValueCountries = []string{
	"united states", "usa", "united kingdom", "uk", "germany", "canada", "australia",
}

var mediumValueCountries = []string{
	"france", "netherlands", "sweden", "brazil", "spain", "japan", "singapore",
}

// Score computes the weighted lead score. Missing data yields neutral factor
// defaults rather than an error; the result is always within [0,100].
func Score(res *Result) (int, ScoreFactors) {
	f := ScoreFactors{
		CompanySize:         scoreCompanySize(res.Company.Employees),
		Seniority:           scoreSeniority(res.People),
		Industry:            scoreIndustry(res.Company.Industry),
		Location:            scoreLocation(res.Company.Country),
		ContactQuality:      scoreContactQuality(res),
		IntentSignals:       scoreIntentSignals(res.Company),
		EngagementPotential: scoreEngagementPotential(res),
	}

	weighted := float64(f.CompanySize)*weightCompanySize +
		float64(f.Seniority)*weightSeniority +
		float64(f.Industry)*weightIndustry +
		float64(f.Location)*weightLocation +
		float64(f.ContactQuality)*weightContactQuality +
		float64(f.IntentSignals)*weightIntentSignals +
		float64(f.EngagementPotential)*weightEngagementPotential

	return clamp(int(math.Round(weighted))), f
}

// Banded headcount. Unknown sizes score the low-mid band, not zero.
func scoreCompanySize(employees int) int {
	switch {
	case employees <= 0:
		return 40
	case employees <= 10:
		return 20
	case employees <= 50:
		return 45
	case employees <= 200:
		return 65
	case employees <= 1000:
		return 80
	default:
		return 95
	}
}

// Best title keyword across all contacts drives the seniority score.
func scoreSeniority(people []Person) int {
	best := 0
	for _, p := range people {
		title := strings.ToLower(p.Title)
		score := 25
		switch {
		case containsAny(title, "ceo", "cto", "cfo", "cmo", "coo", "chief", "founder", "president"):
			score = 95
		case strings.Contains(title, "vp") || strings.Contains(title, "vice president"):
			score = 85
		case strings.Contains(title, "director"):
			score = 75
		case strings.Contains(title, "head"):
			score = 70
		case strings.Contains(title, "manager"):
			score = 55
		case strings.Contains(title, "senior"):
			score = 45
		}
		if score > best {
			best = score
		}
	}
	if best == 0 {
		return 50
	}
	return best
}

func scoreIndustry(industry string) int {
	ind := strings.ToLower(industry)
	if ind == "" {
		return 50
	}
	if containsAny(ind, highValueIndustries...) {
		return 85
	}
	if containsAny(ind, mediumValueIndustries...) {
		return 65
	}
	return 50
}

func scoreLocation(country string) int {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return 50
	}
	if containsAny(c, highValueCountries...) {
		return 80
	}
	if containsAny(c, mediumValueCountries...) {
		return 60
	}
	return 40
}

// Additive presence bonuses, capped at 100.
func scoreContactQuality(res *Result) int {
	score := 0
	hasEmail := false
	hasPhone := res.Company.Phone != ""
	for _, p := range res.People {
		hasEmail = hasEmail || p.Email != ""
		hasPhone = hasPhone || p.Phone != ""
	}
	if hasEmail {
		score += 25
	}
	if hasPhone {
		score += 25
	}
	if res.Company.LinkedIn != "" {
		score += 25
	}
	if res.Company.Website != "" {
		score += 25
	}
	return clamp(score)
}

func scoreIntentSignals(c Company) int {
	score := 50
	if c.Funding {
		score += 20
	}
	if c.Hiring {
		score += 20
	}
	if c.RecentActivity {
		score += 10
	}
	return clamp(score)
}

func scoreEngagementPotential(res *Result) int {
	score := 50
	if len(res.People) > 0 {
		score += 10
	}
	if len(res.DecisionMakers) > 0 {
		score += 10
	}
	if len(res.Technologies) > 0 {
		score += 10
	}
	if res.Company.Description != "" {
		score += 10
	}
	if res.Company.LinkedIn != "" {
		score += 10
	}
	return clamp(score)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
