package enrich

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
)

// Provider is one third-party data source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, req Request) (Partial, error)
}

const providerTimeout = 60 * time.Second

func newClient(base string) *resty.Client {
	// Retries are deliberately off here: the job queue owns retry policy.
	return resty.New().
		SetBaseURL(base).
		SetTimeout(providerTimeout).
		SetHeader("Accept", "application/json")
}

// httpProvider shares the request plumbing of the concrete providers. When no
// API key is configured the provider serves a deterministic stub derived from
// the request, so the pipeline stays exercisable without paid accounts.
type httpProvider struct {
	name   string
	client *resty.Client
	apiKey string
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) get(ctx context.Context, path string, query map[string]string, out any) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, p.name+" request failed", err)
	}
	if resp.IsError() {
		return apperr.Newf(apperr.KindUpstream, "%s returned HTTP %d", p.name, resp.StatusCode())
	}
	return nil
}

// NewProviders builds the configured provider set in resolution order.
func NewProviders(cfg config.EnrichConfig) []Provider {
	var out []Provider
	if cfg.Clearbit.Enabled {
		out = append(out, NewClearbit(cfg.Clearbit))
	}
	if cfg.Apollo.Enabled {
		out = append(out, NewApollo(cfg.Apollo))
	}
	if cfg.Hunter.Enabled {
		out = append(out, NewHunter(cfg.Hunter))
	}
	if cfg.LinkedIn.Enabled {
		out = append(out, NewLinkedIn(cfg.LinkedIn))
	}
	return out
}

// ---- Clearbit: company firmographics ----

type Clearbit struct{ httpProvider }

func NewClearbit(cfg config.ProviderConfig) *Clearbit {
	base := cfg.APIBase
	if base == "" {
		base = "https://company.clearbit.com/v2"
	}
	return &Clearbit{httpProvider{name: "clearbit", client: newClient(base), apiKey: cfg.APIKey}}
}

func (p *Clearbit) Fetch(ctx context.Context, req Request) (Partial, error) {
	if p.apiKey == "" {
		return stubCompany(p.name, req), nil
	}

	var body struct {
		Name     string `json:"name"`
		Domain   string `json:"domain"`
		Category struct {
			Industry string `json:"industry"`
		} `json:"category"`
		Geo struct {
			Country string `json:"country"`
		} `json:"geo"`
		Metrics struct {
			Employees int `json:"employees"`
		} `json:"metrics"`
		Description string   `json:"description"`
		Phone       string   `json:"phone"`
		LinkedIn    string   `json:"linkedin"`
		Site        string   `json:"site"`
		Tech        []string `json:"tech"`
	}
	if err := p.get(ctx, "/companies/find", map[string]string{"domain": req.Domain}, &body); err != nil {
		return Partial{}, err
	}
	return Partial{
		Company: &Company{
			Name:        body.Name,
			Domain:      body.Domain,
			Website:     body.Site,
			Industry:    body.Category.Industry,
			Country:     body.Geo.Country,
			Description: body.Description,
			Phone:       body.Phone,
			LinkedIn:    body.LinkedIn,
			Employees:   body.Metrics.Employees,
		},
		Technologies: body.Tech,
	}, nil
}

// ---- Apollo: people search ----

type Apollo struct{ httpProvider }

func NewApollo(cfg config.ProviderConfig) *Apollo {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.apollo.io/v1"
	}
	return &Apollo{httpProvider{name: "apollo", client: newClient(base), apiKey: cfg.APIKey}}
}

func (p *Apollo) Fetch(ctx context.Context, req Request) (Partial, error) {
	if p.apiKey == "" {
		return stubPeople(p.name, req), nil
	}

	var body struct {
		People []struct {
			Name        string `json:"name"`
			Title       string `json:"title"`
			Email       string `json:"email"`
			LinkedInURL string `json:"linkedin_url"`
		} `json:"people"`
		Organization struct {
			Name      string `json:"name"`
			Industry  string `json:"industry"`
			Employees int    `json:"estimated_num_employees"`
		} `json:"organization"`
	}
	query := map[string]string{"q_organization_domains": req.Domain}
	if req.Domain == "" {
		query = map[string]string{"q_organization_name": req.CompanyName}
	}
	if err := p.get(ctx, "/mixed_people/search", query, &body); err != nil {
		return Partial{}, err
	}

	people := make([]Person, 0, len(body.People))
	for _, raw := range body.People {
		people = append(people, Person{
			Name:     raw.Name,
			Title:    raw.Title,
			Email:    raw.Email,
			LinkedIn: raw.LinkedInURL,
		})
	}
	return Partial{
		Company: &Company{
			Name:      body.Organization.Name,
			Industry:  body.Organization.Industry,
			Employees: body.Organization.Employees,
		},
		People: people,
	}, nil
}

// ---- Hunter: email discovery ----

type Hunter struct{ httpProvider }

func NewHunter(cfg config.ProviderConfig) *Hunter {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.hunter.io/v2"
	}
	return &Hunter{httpProvider{name: "hunter", client: newClient(base), apiKey: cfg.APIKey}}
}

func (p *Hunter) Fetch(ctx context.Context, req Request) (Partial, error) {
	if p.apiKey == "" {
		return stubEmails(p.name, req), nil
	}

	var body struct {
		Data struct {
			Domain       string `json:"domain"`
			Organization string `json:"organization"`
			Emails       []struct {
				Value     string `json:"value"`
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
				Position  string `json:"position"`
				Phone     string `json:"phone_number"`
			} `json:"emails"`
		} `json:"data"`
	}
	if err := p.get(ctx, "/domain-search", map[string]string{"domain": req.Domain, "api_key": p.apiKey}, &body); err != nil {
		return Partial{}, err
	}

	people := make([]Person, 0, len(body.Data.Emails))
	for _, e := range body.Data.Emails {
		people = append(people, Person{
			Name:  strings.TrimSpace(e.FirstName + " " + e.LastName),
			Title: e.Position,
			Email: e.Value,
			Phone: e.Phone,
		})
	}
	return Partial{
		Company: &Company{Name: body.Data.Organization, Domain: body.Data.Domain},
		People:  people,
	}, nil
}

// ---- LinkedIn: company page + signals ----

type LinkedIn struct{ httpProvider }

func NewLinkedIn(cfg config.ProviderConfig) *LinkedIn {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.linkedin.com/v2"
	}
	return &LinkedIn{httpProvider{name: "linkedin", client: newClient(base), apiKey: cfg.APIKey}}
}

func (p *LinkedIn) Fetch(ctx context.Context, req Request) (Partial, error) {
	if p.apiKey == "" {
		return stubSignals(p.name, req), nil
	}

	var body struct {
		LocalizedName    string `json:"localizedName"`
		LocalizedWebsite string `json:"localizedWebsite"`
		StaffCount       int    `json:"staffCount"`
		Industry         string `json:"industry"`
		Hiring           bool   `json:"hiring"`
	}
	if err := p.get(ctx, "/organizations", map[string]string{"q": "vanityName", "vanityName": companySlug(req)}, &body); err != nil {
		return Partial{}, err
	}
	return Partial{
		Company: &Company{
			Name:      body.LocalizedName,
			Website:   body.LocalizedWebsite,
			Industry:  body.Industry,
			Employees: body.StaffCount,
			Hiring:    body.Hiring,
			LinkedIn:  "https://www.linkedin.com/company/" + companySlug(req),
		},
	}, nil
}

// ---- deterministic stubs ----

func companySlug(req Request) string {
	if req.CompanyName != "" {
		return strings.ReplaceAll(strings.ToLower(req.CompanyName), " ", "-")
	}
	name, _, _ := strings.Cut(req.Domain, ".")
	return name
}

func seed(req Request) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.CacheKey()))
	return h.Sum32()
}

func stubCompanyName(req Request) string {
	if req.CompanyName != "" {
		return req.CompanyName
	}
	name, _, _ := strings.Cut(req.Domain, ".")
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func stubCompany(source string, req Request) Partial {
	s := seed(req)
	return Partial{
		Company: &Company{
			Name:        stubCompanyName(req),
			Domain:      req.Domain,
			Website:     "https://" + req.Domain,
			Industry:    []string{"Software", "Manufacturing", "Retail", "Finance"}[s%4],
			Country:     []string{"United States", "Germany", "Brazil", "Japan"}[(s>>2)%4],
			Description: fmt.Sprintf("%s (via %s sandbox)", stubCompanyName(req), source),
			Employees:   int(s%2000) + 5,
		},
		Technologies: []string{"react", "postgresql"},
	}
}

func stubPeople(source string, req Request) Partial {
	name := stubCompanyName(req)
	return Partial{
		People: []Person{
			{Name: "Alex Rivera", Title: "CEO", Email: "alex@" + req.Domain, LinkedIn: "https://www.linkedin.com/in/alex-rivera"},
			{Name: "Sam Chen", Title: "VP of Sales", Email: "sam@" + req.Domain},
			{Name: "Jordan Lee", Title: "Account Executive", Email: "jordan@" + req.Domain},
		},
		Company: &Company{Name: name, Hiring: seed(req)%2 == 0},
	}
}

func stubEmails(source string, req Request) Partial {
	return Partial{
		People: []Person{
			{Name: "Alex Rivera", Title: "CEO", Email: "alex@" + req.Domain},
			{Name: "Taylor Brooks", Title: "Head of Marketing", Email: "taylor@" + req.Domain, Phone: "+1 555 0100"},
		},
		Company: &Company{Domain: req.Domain},
	}
}

func stubSignals(source string, req Request) Partial {
	s := seed(req)
	return Partial{
		Company: &Company{
			Name:           stubCompanyName(req),
			LinkedIn:       "https://www.linkedin.com/company/" + companySlug(req),
			Funding:        s%3 == 0,
			RecentActivity: true,
		},
	}
}
