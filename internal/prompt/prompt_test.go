package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fos938/lead-generator/internal/lead"
)

func TestResearch(t *testing.T) {
	p := Research("dental practices", "Buckhead, Atlanta, GA", 5)

	assert.Contains(t, p.System, "lead generation assistant")
	assert.Contains(t, p.User, "Find 5 high-potential dental practices in Buckhead, Atlanta, GA.")
	assert.Contains(t, p.User, "business_name: Full name of the business")
	assert.Contains(t, p.User, "Return ONLY valid JSON")
}

func TestQualifyEmbedsLeadsAndCriteria(t *testing.T) {
	leads := []lead.Lead{{BusinessName: "Peachtree Smiles", Phone: "(404) 555-0123"}}

	p, err := Qualify(leads, "- Near transit\n- Open weekends")
	require.NoError(t, err)

	assert.Contains(t, p.System, "lead qualification assistant")
	assert.Contains(t, p.User, `"business_name": "Peachtree Smiles"`)
	assert.Contains(t, p.User, "- Near transit")
	assert.Contains(t, p.User, `classification: "High Value", "Medium Value", or "Low Value"`)
}

func TestQualifyDefaultsCriteria(t *testing.T) {
	p, err := Qualify(lead.FallbackLeads(), "   ")
	require.NoError(t, err)

	assert.Contains(t, p.User, "High-value leads have these characteristics:")
	assert.Contains(t, p.User, "Complete contact information available")
}

func TestOutreach(t *testing.T) {
	l := lead.Lead{
		BusinessName:     "Atlanta Dental Spa - Buckhead",
		PersonalizedNote: "Recently renovated lobby",
	}

	p, err := Outreach(l, Profile{})
	require.NoError(t, err)

	assert.Contains(t, p.System, "sales outreach specialist")
	assert.Contains(t, p.User, "outreach email to Atlanta Dental Spa - Buckhead")
	assert.Contains(t, p.User, "Include their personalized note: Recently renovated lobby")
	assert.Contains(t, p.User, "subject line on the first line")
	assert.NotContains(t, p.User, "About our company:")
}

func TestOutreachMissingNote(t *testing.T) {
	p, err := Outreach(lead.Lead{BusinessName: "Solo Dental"}, Profile{})
	require.NoError(t, err)

	// The note slot stays in the template even when empty, matching the
	// numbered list shape the model is instructed with.
	assert.True(t, strings.Contains(p.User, "3. Include their personalized note: \n"))
}

func TestOutreachWithProfile(t *testing.T) {
	profile := Profile{
		Services:       "commercial cleaning, floor care, disinfection",
		Locations:      "Atlanta metro",
		TargetAccounts: "dental practices, medical spas",
	}

	p, err := Outreach(lead.Lead{BusinessName: "Solo Dental"}, profile)
	require.NoError(t, err)

	assert.Contains(t, p.User, "About our company:")
	assert.Contains(t, p.User, "- Services: commercial cleaning, floor care, disinfection")
	assert.Contains(t, p.User, "- Locations: Atlanta metro")
	assert.Contains(t, p.User, "- Target accounts: dental practices, medical spas")

	// The company block sits between the lead details and the instructions.
	idx := strings.Index(p.User, "About our company:")
	require.True(t, idx > strings.Index(p.User, "Business details:"))
	require.True(t, idx < strings.Index(p.User, "The email should:"))
}

func TestOutreachPartialProfile(t *testing.T) {
	p, err := Outreach(lead.Lead{BusinessName: "Solo Dental"}, Profile{Services: "office cleaning"})
	require.NoError(t, err)

	assert.Contains(t, p.User, "- Services: office cleaning")
	assert.NotContains(t, p.User, "- Locations:")
	assert.NotContains(t, p.User, "- Target accounts:")
}
