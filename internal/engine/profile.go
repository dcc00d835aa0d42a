package engine

// Preference is the chat mode a user wants to be paired for.
type Preference string

const (
	// PreferenceAny matches every mode and is the zero value.
	PreferenceAny   Preference = ""
	PreferenceText  Preference = "text"
	PreferenceVoice Preference = "voice"
	PreferenceVideo Preference = "video"
)

// Profile is a user's public matching profile: the interest tags they want
// to be paired on and the chat mode they are offering.
type Profile struct {
	Interests  []string   `json:"interests"`
	Preference Preference `json:"preference,omitempty"`
}

// Criteria filters which candidates a waiting user may be paired with.
// The zero value accepts any candidate.
type Criteria struct {
	RequirePreference Preference `json:"require_preference,omitempty"`
}

// Accepts reports whether a candidate with the given preference satisfies
// the criteria.
func (c Criteria) Accepts(p Preference) bool {
	return c.RequirePreference == PreferenceAny || c.RequirePreference == p
}
