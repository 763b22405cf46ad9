// Package prompt builds the chat prompts for the three model stages:
// research, qualification, and outreach. Each builder returns a system
// and user message pair ready to hand to the inference client.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Fos938/lead-generator/internal/lead"
)

// Prompt is a system/user message pair for a single chat completion.
type Prompt struct {
	System string
	User   string
}

// Profile describes the business doing the outreach. Non-empty fields are
// added verbatim to the outreach prompt; a zero Profile leaves the prompt
// unchanged.
type Profile struct {
	Services       string
	Locations      string
	TargetAccounts string
}

func (p Profile) block() string {
	lines := make([]string, 0, 3)
	if strings.TrimSpace(p.Services) != "" {
		lines = append(lines, "- Services: "+p.Services)
	}
	if strings.TrimSpace(p.Locations) != "" {
		lines = append(lines, "- Locations: "+p.Locations)
	}
	if strings.TrimSpace(p.TargetAccounts) != "" {
		lines = append(lines, "- Target accounts: "+p.TargetAccounts)
	}
	if len(lines) == 0 {
		return ""
	}
	return "\nAbout our company:\n" + strings.Join(lines, "\n") + "\n"
}

// genericCriteria stands in when the caller supplies no qualification
// criteria at all.
const genericCriteria = `High-value leads have these characteristics:
- Located in upscale areas
- Larger facilities
- Offering premium services
- Recent renovations or upscale facilities
- Complete contact information available`

const (
	researchSystem = "You are a lead generation assistant that provides accurate, " +
		"well-researched business information in JSON format."
	qualifySystem = "You are a lead qualification assistant that analyzes business data " +
		"and provides scoring in perfect JSON format with no additional text."
	outreachSystem = "You are a sales outreach specialist who writes highly effective, " +
		"personalized business emails."
)

const researchTemplate = `You are a B2B lead generation specialist. Find %d high-potential %s in %s.

For each business, provide the following information in a JSON array:
- business_name: Full name of the business
- address: Complete address
- phone: Phone number if available
- website: Website URL if available
- email: Email if available
- description: Brief description of the business
- estimated_size: Estimated size (small, medium, large, or square footage if known)
- year_established: Year established if available (or estimate)

Return ONLY valid JSON that can be parsed, with no additional text.`

const qualifyTemplate = `You are a lead qualification expert for cleaning services. Review these potential business leads:

%s

Based on these criteria:
%s

For each lead, add the following fields:
1. score: A score from 1-5 (5 being highest value)
2. classification: "High Value", "Medium Value", or "Low Value" based on score
3. reasoning: Brief explanation of the score
4. best_contact_method: Recommended way to contact them
5. personalized_note: A specific observation to mention in outreach

Return the enhanced leads as a valid, parseable JSON array with all original fields plus the new ones.`

const outreachTemplate = `Create a personalized outreach email to %s for cleaning services.

Business details:
%s
%s
The email should:
1. Reference something specific about their business
2. Position cleaning services as enhancing their professional image
3. Include their personalized note: %s
4. Offer a free consultation
5. Keep it under 150 words

Return just the email text, with subject line on the first line.`

// Research builds the prompt asking the model for count businesses in the
// given industry and location.
func Research(industry, location string, count int) Prompt {
	return Prompt{
		System: researchSystem,
		User:   fmt.Sprintf(researchTemplate, count, industry, location),
	}
}

// Qualify builds the prompt asking the model to score and classify the given
// leads. An empty criteria string falls back to the generic high-value
// characteristics.
func Qualify(leads []lead.Lead, criteria string) (Prompt, error) {
	payload, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode leads for qualification: %w", err)
	}

	if strings.TrimSpace(criteria) == "" {
		criteria = genericCriteria
	}

	return Prompt{
		System: qualifySystem,
		User:   fmt.Sprintf(qualifyTemplate, string(payload), criteria),
	}, nil
}

// Outreach builds the prompt asking the model for a personalized email to a
// single lead, subject line first. The profile, when set, is included so the
// model can speak for a specific company rather than a generic one.
func Outreach(l lead.Lead, p Profile) (Prompt, error) {
	payload, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to encode lead for outreach: %w", err)
	}

	return Prompt{
		System: outreachSystem,
		User:   fmt.Sprintf(outreachTemplate, l.BusinessName, string(payload), p.block(), l.PersonalizedNote),
	}, nil
}
