// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lead defines the business lead record produced by the research
// stage and enriched by the qualification stage. Every field is optional:
// the model output the records come from guarantees nothing, so consumers
// must tolerate missing values. Unknown keys emitted by the model are kept
// in Extra so downstream views and exports see the full union of fields.
package lead

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Classification labels assigned by the qualification stage.
const (
	ClassificationHigh   = "High Value"
	ClassificationMedium = "Medium Value"
	ClassificationLow    = "Low Value"
)

// FallbackScore is the constant score applied when qualification falls back.
const FallbackScore = 4.2

// Lead is a single candidate business record. Research populates the first
// eight fields; qualification adds the rest. Score is a pointer so a missing
// score is distinguishable from an explicit zero.
type Lead struct {
	BusinessName      string
	Address           string
	Phone             string
	Website           string
	Email             string
	Description       string
	EstimatedSize     string
	YearEstablished   string
	Score             *float64
	Classification    string
	Reasoning         string
	BestContactMethod string
	PersonalizedNote  string

	// Extra holds model-emitted keys that are not part of the canonical
	// schema, rendered as strings.
	Extra map[string]string
}

// Canonical column keys in display/export order.
const (
	FieldBusinessName      = "business_name"
	FieldAddress           = "address"
	FieldPhone             = "phone"
	FieldWebsite           = "website"
	FieldEmail             = "email"
	FieldDescription       = "description"
	FieldEstimatedSize     = "estimated_size"
	FieldYearEstablished   = "year_established"
	FieldScore             = "score"
	FieldClassification    = "classification"
	FieldReasoning         = "reasoning"
	FieldBestContactMethod = "best_contact_method"
	FieldPersonalizedNote  = "personalized_note"
)

// CanonicalFields returns the canonical column keys in their defined order.
func CanonicalFields() []string {
	return []string{
		FieldBusinessName,
		FieldAddress,
		FieldPhone,
		FieldWebsite,
		FieldEmail,
		FieldDescription,
		FieldEstimatedSize,
		FieldYearEstablished,
		FieldScore,
		FieldClassification,
		FieldReasoning,
		FieldBestContactMethod,
		FieldPersonalizedNote,
	}
}

// ScoreValue returns the score or 0 when no score is present.
func (l Lead) ScoreValue() float64 {
	if l.Score == nil {
		return 0
	}
	return *l.Score
}

// HasScore reports whether a numeric score was assigned.
func (l Lead) HasScore() bool {
	return l.Score != nil
}

// Field returns the string form of a canonical field, or the Extra value for
// an unknown key. Missing fields return the empty string.
func (l Lead) Field(key string) string {
	switch key {
	case FieldBusinessName:
		return l.BusinessName
	case FieldAddress:
		return l.Address
	case FieldPhone:
		return l.Phone
	case FieldWebsite:
		return l.Website
	case FieldEmail:
		return l.Email
	case FieldDescription:
		return l.Description
	case FieldEstimatedSize:
		return l.EstimatedSize
	case FieldYearEstablished:
		return l.YearEstablished
	case FieldScore:
		if l.Score == nil {
			return ""
		}
		return strconv.FormatFloat(*l.Score, 'f', -1, 64)
	case FieldClassification:
		return l.Classification
	case FieldReasoning:
		return l.Reasoning
	case FieldBestContactMethod:
		return l.BestContactMethod
	case FieldPersonalizedNote:
		return l.PersonalizedNote
	default:
		return l.Extra[key]
	}
}

// UnmarshalJSON decodes a lead from a loosely-typed JSON object. String
// fields accept numbers (rendered to text), score accepts numbers or numeric
// strings, and unrecognized keys land in Extra.
func (l *Lead) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("lead must be a JSON object: %w", err)
	}

	for key, value := range raw {
		switch key {
		case FieldBusinessName:
			l.BusinessName = looseString(value)
		case FieldAddress:
			l.Address = looseString(value)
		case FieldPhone:
			l.Phone = looseString(value)
		case FieldWebsite:
			l.Website = looseString(value)
		case FieldEmail:
			l.Email = looseString(value)
		case FieldDescription:
			l.Description = looseString(value)
		case FieldEstimatedSize:
			l.EstimatedSize = looseString(value)
		case FieldYearEstablished:
			l.YearEstablished = looseString(value)
		case FieldScore:
			l.Score = looseScore(value)
		case FieldClassification:
			l.Classification = looseString(value)
		case FieldReasoning:
			l.Reasoning = looseString(value)
		case FieldBestContactMethod:
			l.BestContactMethod = looseString(value)
		case FieldPersonalizedNote:
			l.PersonalizedNote = looseString(value)
		default:
			if l.Extra == nil {
				l.Extra = make(map[string]string)
			}
			l.Extra[key] = looseString(value)
		}
	}

	return nil
}

// MarshalJSON renders the lead back to a flat JSON object, omitting empty
// fields and merging Extra keys in.
func (l Lead) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 13+len(l.Extra))

	for _, key := range CanonicalFields() {
		if key == FieldScore {
			if l.Score != nil {
				out[key] = *l.Score
			}
			continue
		}
		if value := l.Field(key); value != "" {
			out[key] = value
		}
	}

	for key, value := range l.Extra {
		if _, taken := out[key]; !taken {
			out[key] = value
		}
	}

	return json.Marshal(out)
}

// looseString renders a raw JSON value as text: strings are unquoted, other
// scalars and composites keep their compact JSON form.
func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// looseScore parses a score that may arrive as a JSON number or a numeric
// string. Anything else counts as no score.
func looseScore(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

// ptr is a small helper for building leads with literal scores.
func ptr(f float64) *float64 { return &f }

// FallbackLeads returns the fixed sample record set substituted when live
// research output cannot be obtained or parsed. Exactly three records, all
// canonical research fields populated.
func FallbackLeads() []Lead {
	return []Lead{
		{
			BusinessName:    "Premier Dental Care of Buckhead",
			Address:         "3580 Piedmont Rd NE Suite 113, Atlanta, GA 30305",
			Phone:           "(404) 491-7711",
			Website:         "premierdentalcareofbuckhead.com",
			Email:           "info@premierdentalcare.com",
			Description:     "Full-service dental practice with cosmetic and general dentistry services",
			EstimatedSize:   "medium",
			YearEstablished: "2015",
		},
		{
			BusinessName:    "Buckhead Dental Partners",
			Address:         "3525 Piedmont Rd NE Building 8 Suite 415, Atlanta, GA 30305",
			Phone:           "(404) 261-0610",
			Website:         "buckheaddentalpartners.com",
			Email:           "appointment@buckheaddentalpartners.com",
			Description:     "Upscale dental practice specializing in cosmetic and implant dentistry",
			EstimatedSize:   "medium",
			YearEstablished: "2012",
		},
		{
			BusinessName:    "Atlanta Dental Spa - Buckhead",
			Address:         "3189 Maple Dr NE, Atlanta, GA 30305",
			Phone:           "(404) 816-2230",
			Website:         "atlantadentalspa.com",
			Email:           "smile@atlantadentalspa.com",
			Description:     "Luxury dental spa offering high-end dentistry with comfort amenities",
			EstimatedSize:   "large",
			YearEstablished: "2008",
		},
	}
}

// ApplyFallbackScores enriches every record with the constant qualification
// values used when live analysis output cannot be obtained or parsed. The
// input slice is copied; records keep their research fields.
func ApplyFallbackScores(leads []Lead) []Lead {
	scored := make([]Lead, len(leads))
	for i, l := range leads {
		l.Score = ptr(FallbackScore)
		l.Classification = ClassificationHigh
		l.Reasoning = "Located in upscale area with complete contact information"
		l.BestContactMethod = "Email"
		l.PersonalizedNote = "Your facility's premium image would benefit from specialized cleaning services"
		scored[i] = l
	}
	return scored
}

// CountByClassification tallies leads per classification label.
func CountByClassification(leads []Lead) map[string]int {
	counts := make(map[string]int)
	for _, l := range leads {
		if l.Classification != "" {
			counts[l.Classification]++
		}
	}
	return counts
}
