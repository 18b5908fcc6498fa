package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/kalambet/obi/internal/profile"
)

func strongPrefs() profile.Metadata {
	return profile.Metadata{
		CommunicationPreferences: profile.CommunicationPreferences{
			InteractionStyle: 5,
			DetailLevel:      1,
			RapportLevel:     4,
		},
		NamePreference: profile.NamePreference{
			PreferredName:     "Margaret",
			TitleRequired:     true,
			ProfessionalTitle: "Dr.",
			FormalityLevel:    "informal",
		},
		Demographics: profile.Demographics{
			AgeCategory:        "senior",
			ProfessionalStatus: "retired",
		},
	}
}

func TestCalibrateStrictLevelUsesRawPreferences(t *testing.T) {
	c, err := Calibrate(100, strongPrefs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.InteractionStyle != 5 || c.DetailLevel != 1 || c.RapportLevel != 4 {
		t.Errorf("numeric controls = {%g, %g, %g}, want raw {5, 1, 4}",
			c.InteractionStyle, c.DetailLevel, c.RapportLevel)
	}
	if !c.TitleRequired || c.ProfessionalTitle != "Dr." || c.PreferredName != "Margaret" {
		t.Errorf("title preferences not adopted at level 100: %+v", c)
	}
	if c.FormalityLevel != "informal" {
		t.Errorf("FormalityLevel = %q, want informal", c.FormalityLevel)
	}
	if c.AgeCategory != "senior" || c.ProfessionalStatus != "retired" {
		t.Errorf("demographics not adopted at level 100: %+v", c)
	}
}

func TestCalibrateMinimalLevelUsesDefaults(t *testing.T) {
	c, err := Calibrate(10, strongPrefs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != Defaults() {
		t.Errorf("level 10 controls = %+v, want full system defaults %+v", c, Defaults())
	}
}

func TestCalibrateDeterministic(t *testing.T) {
	prefs := strongPrefs()
	first, err := Calibrate(55, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Calibrate(55, prefs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("run %d produced %+v, first run produced %+v", i, again, first)
		}
	}
}

func TestCalibrateBandBoundaries(t *testing.T) {
	prefs := strongPrefs()

	tests := []struct {
		level float64
		band  Band
	}{
		{0, BandMinimal},
		{30, BandMinimal},
		{30.01, BandModerate},
		{70, BandModerate},
		{70.01, BandStrict},
		{100, BandStrict},
	}
	for _, tt := range tests {
		if got := BandFor(tt.level); got != tt.band {
			t.Errorf("BandFor(%g) = %v, want %v", tt.level, got, tt.band)
		}
	}

	// At the top of the minimal band the controls are exactly defaults; just
	// past it the user preference starts pulling them away.
	atBoundary, _ := Calibrate(30, prefs)
	if atBoundary.InteractionStyle != 3 {
		t.Errorf("InteractionStyle at level 30 = %g, want default 3", atBoundary.InteractionStyle)
	}
	pastBoundary, _ := Calibrate(31, prefs)
	if pastBoundary.InteractionStyle <= 3 {
		t.Errorf("InteractionStyle at level 31 = %g, want above default toward 5", pastBoundary.InteractionStyle)
	}
}

func TestCalibrateMonotoneInLevel(t *testing.T) {
	prefs := strongPrefs()

	prev := -1.0
	for level := 0.0; level <= 100; level += 5 {
		c, err := Calibrate(level, prefs)
		if err != nil {
			t.Fatalf("level %g: unexpected error: %v", level, err)
		}
		// InteractionStyle pulls upward (5 > default 3), so it must never
		// decrease as the level rises.
		if c.InteractionStyle < prev {
			t.Fatalf("InteractionStyle decreased at level %g: %g < %g", level, c.InteractionStyle, prev)
		}
		prev = c.InteractionStyle
	}
}

func TestCalibrateGatingThresholds(t *testing.T) {
	prefs := strongPrefs()

	tests := []struct {
		name      string
		level     float64
		wantTitle bool
		wantDemo  bool
		wantForm  string
	}{
		{"below all gates", 20, false, false, "formal"},
		{"title only", 28, true, false, "formal"},
		{"title and demographics", 40, true, true, "formal"},
		{"all gates open", 60, true, true, "informal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Calibrate(tt.level, prefs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.TitleRequired != tt.wantTitle {
				t.Errorf("TitleRequired = %v, want %v", c.TitleRequired, tt.wantTitle)
			}
			gotDemo := c.AgeCategory == "senior"
			if gotDemo != tt.wantDemo {
				t.Errorf("AgeCategory = %q, demographics adopted = %v, want %v", c.AgeCategory, gotDemo, tt.wantDemo)
			}
			if c.FormalityLevel != tt.wantForm {
				t.Errorf("FormalityLevel = %q, want %q", c.FormalityLevel, tt.wantForm)
			}
		})
	}
}

func TestCalibrateRejectsOutOfRangeLevel(t *testing.T) {
	for _, level := range []float64{-1, 100.5, math.NaN()} {
		_, err := Calibrate(level, strongPrefs())
		if err == nil {
			t.Errorf("Calibrate(%g) returned nil error, want *ValidationError", level)
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Calibrate(%g) error = %v, want *ValidationError", level, err)
		}
	}
}

func TestCalibrateMalformedPrefsFallBackToDefaults(t *testing.T) {
	prefs := strongPrefs()
	prefs.CommunicationPreferences.DetailLevel = 9

	c, err := Calibrate(80, prefs)
	if err != nil {
		t.Fatalf("malformed preferences must not error, got: %v", err)
	}
	if c != Defaults() {
		t.Errorf("controls = %+v, want full system defaults when preferences are malformed", c)
	}
}

func TestCalibrateUndocumentedNumericPrefKeepsDefault(t *testing.T) {
	prefs := strongPrefs()
	prefs.CommunicationPreferences.RapportLevel = 0 // not documented

	c, err := Calibrate(100, prefs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.RapportLevel != 3 {
		t.Errorf("RapportLevel = %g, want default 3 when undocumented", c.RapportLevel)
	}
}

func TestPreferenceWeightEndpoints(t *testing.T) {
	if w := preferenceWeight(100); w != 1.0 {
		t.Errorf("weight at 100 = %g, want 1.0", w)
	}
	if w := preferenceWeight(30); w != 0 {
		t.Errorf("weight at 30 = %g, want 0", w)
	}
	if w := preferenceWeight(70); math.Abs(w-0.8) > 1e-9 {
		t.Errorf("weight at 70 = %g, want 0.8", w)
	}
}
