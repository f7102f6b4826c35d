// Package enrich aggregates third-party company/contact data into a single
// scored lead profile: parallel multi-provider fetch, merge/dedupe,
// decision-maker extraction and a deterministic weighted score.
package enrich

import (
	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
)

// Request identifies the lead to enrich. At least one of Domain, Email or
// CompanyName must be set.
type Request struct {
	LeadID      string   `json:"leadId"`
	Domain      string   `json:"domain,omitempty"`
	Email       string   `json:"email,omitempty"`
	CompanyName string   `json:"companyName,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Validate checks that the request carries an identity field.
func (r Request) Validate() error {
	if r.Domain == "" && r.Email == "" && r.CompanyName == "" {
		return apperr.New(apperr.KindValidation, "enrichment request needs a domain, email or company name")
	}
	return nil
}

// CacheKey is domain || email || companyName, first non-empty wins.
func (r Request) CacheKey() string {
	switch {
	case r.Domain != "":
		return r.Domain
	case r.Email != "":
		return r.Email
	default:
		return r.CompanyName
	}
}

// Company is the merged company view. Fields are filled last-writer-wins in
// provider resolution order; an empty value never overwrites a present one.
type Company struct {
	Name           string `json:"name,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Website        string `json:"website,omitempty"`
	Industry       string `json:"industry,omitempty"`
	Country        string `json:"country,omitempty"`
	Description    string `json:"description,omitempty"`
	Phone          string `json:"phone,omitempty"`
	LinkedIn       string `json:"linkedin,omitempty"`
	Employees      int    `json:"employees,omitempty"`
	Funding        bool   `json:"funding,omitempty"`
	Hiring         bool   `json:"hiring,omitempty"`
	RecentActivity bool   `json:"recentActivity,omitempty"`
}

// Person is one contact attached to the lead.
type Person struct {
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// SourceError records a provider that failed; the merge degrades instead of
// aborting.
type SourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Partial is one provider's contribution before merging.
type Partial struct {
	Company      *Company `json:"company,omitempty"`
	People       []Person `json:"people,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// Result is the composite profile. It is never mutated after being returned;
// a fresh merge is recomputed per request.
type Result struct {
	Company        Company       `json:"company"`
	People         []Person      `json:"people"`
	Technologies   []string      `json:"technologies"`
	Sources        []string      `json:"sources"`
	Errors         []SourceError `json:"errors,omitempty"`
	DecisionMakers []Person      `json:"decisionMakers"`
	Factors        ScoreFactors  `json:"scoreFactors"`
	AIScore        int           `json:"aiScore"`
}
