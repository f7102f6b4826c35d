package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeCompanyLastWriterWins(t *testing.T) {
	dst := Company{Name: "Acme", Industry: "Software", Employees: 50}
	mergeCompany(&dst, &Company{Name: "Acme Inc", Country: "Germany"})

	assert.Equal(t, "Acme Inc", dst.Name, "later provider overwrites")
	assert.Equal(t, "Software", dst.Industry, "empty value does not erase")
	assert.Equal(t, "Germany", dst.Country)
	assert.Equal(t, 50, dst.Employees)
}

func TestDedupePeopleIdempotent(t *testing.T) {
	payload := []Person{
		{Name: "Alex Rivera", Title: "CEO", Email: "alex@acme.com"},
		{Name: "Sam Chen", Title: "VP of Sales"},
	}

	once := dedupePeople(payload)
	// Merging the same provider payload twice yields the same arrays as
	// merging once.
	twice := dedupePeople(append(append([]Person{}, payload...), payload...))
	assert.Equal(t, once, twice)
}

func TestDedupePeopleNormalizes(t *testing.T) {
	people := []Person{
		{Name: "Alex Rivera", Title: "CEO"},
		{Name: "  alex rivera ", Title: "ceo"},
		{Name: "Alex Rivera", Title: "CTO"},
	}
	out := dedupePeople(people)
	assert.Len(t, out, 2, "whitespace/case variants collapse; different titles do not")
}

func TestDedupeStrings(t *testing.T) {
	out := dedupeStrings([]string{"React", "react", "PostgreSQL", "", "  react "})
	assert.Equal(t, []string{"React", "PostgreSQL"}, out)
}

func TestExtractDecisionMakers(t *testing.T) {
	people := []Person{
		{Name: "A", Title: "CEO"},
		{Name: "B", Title: "Chief Technology Officer (CTO)"},
		{Name: "C", Title: "VP of Sales"},
		{Name: "D", Title: "Head of Growth"},
		{Name: "E", Title: "Account Executive"},
		{Name: "F", Title: ""},
	}
	dms := extractDecisionMakers(people)

	names := make([]string, 0, len(dms))
	for _, p := range dms {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)

	// Always a subset of the input.
	for _, dm := range dms {
		assert.Contains(t, people, dm)
	}
}
