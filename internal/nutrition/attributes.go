package nutrition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Goal is the dietary goal chosen at purchase time.
type Goal string

const (
	GoalLoseWeight Goal = "lose-weight"
	GoalMaintain   Goal = "maintain"
	GoalGainMuscle Goal = "gain-muscle"
)

// DietType is the eating pattern the plan must respect.
type DietType string

const (
	DietOmnivore    DietType = "omnivore"
	DietVegetarian  DietType = "vegetarian"
	DietVegan       DietType = "vegan"
	DietKeto        DietType = "keto"
	DietPescatarian DietType = "pescatarian"
)

// UserAttributes are the user-supplied inputs attached to a purchase.
// Values are never mutated by the pipeline once decoded.
type UserAttributes struct {
	UserID          string     `json:"userId,omitempty"`
	Name            string     `json:"name,omitempty"`
	Age             Number     `json:"age,omitempty"`
	Height          Number     `json:"height,omitempty"` // centimeters
	Weight          Number     `json:"weight,omitempty"` // kilograms
	Sex             string     `json:"sex,omitempty"`
	Goal            Goal       `json:"goal,omitempty"`
	DietType        DietType   `json:"dietType,omitempty"`
	Allergies       StringSet  `json:"allergies,omitempty"`
	FoodPreferences StringList `json:"foodPreferences,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	TelegramChatID  int64      `json:"telegramChatId,omitempty"`
}

// DisplayName returns the name used in greetings and document headers.
func (a UserAttributes) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return "there"
}

// ParseAttributes decodes attributes from JSON. Both the object form and a
// JSON-encoded string holding the object are accepted.
func ParseAttributes(raw []byte) (UserAttributes, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return UserAttributes{}, fmt.Errorf("user attributes are empty")
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return UserAttributes{}, fmt.Errorf("failed to decode user attributes string: %w", err)
		}
		return ParseAttributes([]byte(inner))
	}

	var attrs UserAttributes
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return UserAttributes{}, fmt.Errorf("failed to decode user attributes: %w", err)
	}
	return attrs, nil
}

// StringList is an ordered sequence of strings that may arrive either as a
// comma-delimited string or as a JSON array. Entries are trimmed and empty
// entries dropped, so both shapes decode to the same sequence.
type StringList []string

// ParseList splits a comma-delimited string into a StringList.
func ParseList(s string) StringList {
	return normalizeEntries(strings.Split(s, ","))
}

// UnmarshalJSON accepts a string, an array of strings or null.
func (l *StringList) UnmarshalJSON(data []byte) error {
	entries, err := decodeEntries(data)
	if err != nil {
		return err
	}
	*l = normalizeEntries(entries)
	return nil
}

// String joins the entries with ", ".
func (l StringList) String() string {
	return strings.Join(l, ", ")
}

// StringSet is a StringList with case-insensitive duplicates removed; the
// first spelling of each entry wins.
type StringSet []string

// ParseSet splits a comma-delimited string into a StringSet.
func ParseSet(s string) StringSet {
	return dedupe(ParseList(s))
}

// UnmarshalJSON accepts a string, an array of strings or null.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var l StringList
	if err := l.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = dedupe(l)
	return nil
}

// String joins the entries with ", ".
func (s StringSet) String() string {
	return strings.Join(s, ", ")
}

func decodeEntries(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return strings.Split(s, ","), nil
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("list entries must be strings: %w", err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected a string or a list, got %s", string(data))
	}
}

func normalizeEntries(entries []string) StringList {
	var out StringList
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func dedupe(l StringList) StringSet {
	var out StringSet
	seen := make(map[string]struct{}, len(l))
	for _, e := range l {
		key := strings.ToLower(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Number is a measurement that may arrive as a JSON number or a numeric
// string. Missing or unparsable values decode to zero, which downstream
// stages treat as "not provided".
type Number float64

// UnmarshalJSON accepts a number, a numeric string or null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Provided reports whether a positive value was supplied.
func (n Number) Provided() bool {
	return n > 0
}

// String formats the value without trailing zeros, or "N/A" when missing.
func (n Number) String() string {
	if !n.Provided() {
		return "N/A"
	}
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}
