package profile

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source holds the set of validated profiles loaded at startup and answers
// identity lookups. Profiles are immutable after Load, so Source is safe for
// concurrent reads without locking.
type Source struct {
	profiles []UserProfile
	byID     map[string]*UserProfile
}

type profilesFile struct {
	Users []UserProfile `yaml:"users"`
}

// Load reads and validates the profiles YAML file. Validation happens once
// here; downstream consumers never re-check the schema.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML profile data. Profiles failing validation are
// skipped with a warning rather than rejecting the whole file, so one bad
// record cannot take down the service.
func Parse(data []byte) (*Source, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}

	s := &Source{byID: make(map[string]*UserProfile)}
	for i, p := range f.Users {
		if p.ID == "" {
			p.ID = fmt.Sprintf("citizen-%d", i+1)
		}
		if err := validate(p); err != nil {
			slog.Warn("skipping invalid profile", "id", p.ID, "error", err)
			continue
		}
		s.profiles = append(s.profiles, p)
	}
	for i := range s.profiles {
		s.byID[s.profiles[i].ID] = &s.profiles[i]
	}
	return s, nil
}

// All returns the loaded profiles in file order.
func (s *Source) All() []UserProfile {
	return s.profiles
}

// ByID returns the profile with the given id, or nil if unknown.
func (s *Source) ByID(id string) *UserProfile {
	return s.byID[id]
}

// ByIndex returns the profile at the given position, or nil if out of range.
func (s *Source) ByIndex(i int) *UserProfile {
	if i < 0 || i >= len(s.profiles) {
		return nil
	}
	return &s.profiles[i]
}

func validate(p UserProfile) error {
	if strings.TrimSpace(p.Personal.FullName) == "" {
		return fmt.Errorf("personal.full_name is required")
	}

	cp := p.Metadata.CommunicationPreferences
	for name, v := range map[string]int{
		"interaction_style": cp.InteractionStyle,
		"detail_level":      cp.DetailLevel,
		"rapport_level":     cp.RapportLevel,
	} {
		if v != 0 && (v < 1 || v > 5) {
			return fmt.Errorf("communication_preferences.%s must be 1..5, got %d", name, v)
		}
	}

	if fl := p.Metadata.NamePreference.FormalityLevel; fl != "" {
		switch fl {
		case "formal", "semiformal", "informal":
		default:
			return fmt.Errorf("name_preference.formality_level %q is not one of formal, semiformal, informal", fl)
		}
	}
	return nil
}
