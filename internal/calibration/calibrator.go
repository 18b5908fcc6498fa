package calibration

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/kalambet/obi/internal/profile"
)

// Adherence bands for the differentiation dial. The band determines how
// strongly documented user preferences override the standardized defaults.
const (
	minimalBandMax  = 30.0
	moderateBandMax = 70.0
)

// Gating thresholds for the secondary (non-numeric) controls. Below the
// threshold the system default stays in force; at or above it the user's
// documented value is adopted wholesale.
const (
	titleThreshold        = 25.0
	demographicsThreshold = 30.0
	formalityThreshold    = 50.0
)

// Numeric preference scale bounds (1=methodical/maximum/personal,
// 5=efficient/minimal/professional).
const (
	prefScaleMin = 1
	prefScaleMax = 5
)

// Band identifies the adherence band for a differentiation level.
type Band int

const (
	BandMinimal Band = iota
	BandModerate
	BandStrict
)

func (b Band) String() string {
	switch b {
	case BandMinimal:
		return "minimal"
	case BandModerate:
		return "moderate"
	default:
		return "strict"
	}
}

// BandFor returns the adherence band for a differentiation level.
func BandFor(level float64) Band {
	switch {
	case level <= minimalBandMax:
		return BandMinimal
	case level <= moderateBandMax:
		return BandModerate
	default:
		return BandStrict
	}
}

// ValidationError reports an input outside the accepted range.
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s out of range: %g", e.Field, e.Value)
}

// Controls is the resolved set of communication parameters handed to the
// prompt builder. A Controls value is produced fresh on every calibration
// and never mutated afterwards.
type Controls struct {
	InteractionStyle float64
	DetailLevel      float64
	RapportLevel     float64

	FormalityLevel     string
	TitleRequired      bool
	ProfessionalTitle  string
	PreferredName      string
	AgeCategory        string
	ProfessionalStatus string
}

// Defaults returns the standardized system controls used when preferences
// are absent, malformed, or suppressed by a low differentiation level.
func Defaults() Controls {
	return Controls{
		InteractionStyle:   3,
		DetailLevel:        3,
		RapportLevel:       3,
		FormalityLevel:     "formal",
		TitleRequired:      false,
		ProfessionalTitle:  "",
		PreferredName:      "",
		AgeCategory:        "adult",
		ProfessionalStatus: "none",
	}
}

// Calibrate maps a differentiation level and the raw preferences from a user
// profile to a complete Controls record.
//
// The three numeric controls are a weighted average between the system
// defaults and the user's documented values; the weight is 0 in the minimal
// band, ramps 0.2→0.8 across the moderate band, and 0.8→1.0 across the
// strict band, so level 100 reproduces the raw preferences exactly.
// Secondary controls are gated, not blended: each switches from default to
// the raw value once the level crosses its threshold.
//
// Calibrate is pure and deterministic. An out-of-range level is rejected
// with a *ValidationError. Malformed preference values never propagate:
// they are logged and the full system defaults are used instead.
func Calibrate(level float64, prefs profile.Metadata) (Controls, error) {
	if level < 0 || level > 100 || math.IsNaN(level) {
		return Defaults(), &ValidationError{Field: "differentiation_level", Value: level}
	}

	if !prefsWellFormed(prefs.CommunicationPreferences) {
		slog.Warn("malformed communication preferences, using system defaults",
			"interaction_style", prefs.CommunicationPreferences.InteractionStyle,
			"detail_level", prefs.CommunicationPreferences.DetailLevel,
			"rapport_level", prefs.CommunicationPreferences.RapportLevel,
		)
		return Defaults(), nil
	}

	w := preferenceWeight(level)
	out := Defaults()

	cp := prefs.CommunicationPreferences
	out.InteractionStyle = blend(out.InteractionStyle, cp.InteractionStyle, w)
	out.DetailLevel = blend(out.DetailLevel, cp.DetailLevel, w)
	out.RapportLevel = blend(out.RapportLevel, cp.RapportLevel, w)

	np := prefs.NamePreference
	if level > titleThreshold {
		out.TitleRequired = np.TitleRequired
		out.ProfessionalTitle = np.ProfessionalTitle
		out.PreferredName = np.PreferredName
	}
	if level > formalityThreshold && validFormality(np.FormalityLevel) {
		out.FormalityLevel = np.FormalityLevel
	}

	dg := prefs.Demographics
	if level > demographicsThreshold {
		if validAgeCategory(dg.AgeCategory) {
			out.AgeCategory = dg.AgeCategory
		}
		if validProfessionalStatus(dg.ProfessionalStatus) {
			out.ProfessionalStatus = dg.ProfessionalStatus
		}
	}

	return out, nil
}

// preferenceWeight maps the differentiation level onto the blend weight
// applied to user preferences. Monotone non-decreasing in level.
func preferenceWeight(level float64) float64 {
	switch {
	case level <= minimalBandMax:
		return 0
	case level <= moderateBandMax:
		return 0.2 + (level-minimalBandMax)/40*0.6
	default:
		return 0.8 + (level-moderateBandMax)/30*0.2
	}
}

// blend computes the weighted average of the system default and the user
// value, rounded to one decimal. A zero user value means the preference was
// not documented and the default stands.
func blend(def float64, user int, w float64) float64 {
	if user == 0 {
		return def
	}
	v := def*(1-w) + float64(user)*w
	return math.Round(v*10) / 10
}

// prefsWellFormed reports whether every documented numeric preference sits
// on the 1..5 scale. Zero means "not documented" and is acceptable.
func prefsWellFormed(cp profile.CommunicationPreferences) bool {
	for _, v := range []int{cp.InteractionStyle, cp.DetailLevel, cp.RapportLevel} {
		if v != 0 && (v < prefScaleMin || v > prefScaleMax) {
			return false
		}
	}
	return true
}

func validFormality(s string) bool {
	switch s {
	case "formal", "semiformal", "informal":
		return true
	}
	return false
}

func validAgeCategory(s string) bool {
	switch s {
	case "senior", "adult", "youth":
		return true
	}
	return false
}

func validProfessionalStatus(s string) bool {
	switch s {
	case "active", "retired", "student", "none":
		return true
	}
	return false
}
