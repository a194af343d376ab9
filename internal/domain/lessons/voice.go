package lessons

import "strings"

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderNeutral Gender = "neutral"
)

// NormalizeGender maps free-form provider values onto Gender.
func NormalizeGender(raw string) Gender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "male", "m", "man":
		return GenderMale
	case "female", "f", "woman":
		return GenderFemale
	default:
		return GenderNeutral
	}
}

type Voice struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name"`
	Gender       Gender `json:"gender" yaml:"gender"`
	LanguageCode string `json:"languageCode" yaml:"language_code"`
}

// NarrowSegment is one sentence of a narrow-listening story variant.
type NarrowSegment struct {
	Text        string `json:"text"`
	Translation string `json:"translation,omitempty"`
	Reading     string `json:"reading,omitempty"`
}

// NarrowTimedSegment is a NarrowSegment placed on the combined audio timeline.
type NarrowTimedSegment struct {
	NarrowSegment
	VoiceID     string `json:"voiceId"`
	StartTimeMs int64  `json:"startTime"`
	EndTimeMs   int64  `json:"endTime"`
}
