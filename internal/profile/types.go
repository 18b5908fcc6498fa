package profile

// UserProfile is a citizen's validated record as loaded from the profiles
// file. It is read-only for the lifetime of any session that references it.
type UserProfile struct {
	ID            string        `yaml:"id"`
	Personal      Personal      `yaml:"personal"`
	Addresses     Addresses     `yaml:"addresses"`
	License       License       `yaml:"license"`
	Documentation Documentation `yaml:"documentation"`
	Payment       Payment       `yaml:"payment"`
	Metadata      Metadata      `yaml:"metadata"`
}

type Personal struct {
	FullName        string `yaml:"full_name"`
	DOB             string `yaml:"dob"`
	PrimaryLanguage string `yaml:"primary_language"`
}

type Addresses struct {
	Residential Address `yaml:"residential"`
}

type Address struct {
	Street string `yaml:"street"`
	City   string `yaml:"city"`
	State  string `yaml:"state"`
	Zip    string `yaml:"zip"`
}

type License struct {
	Current  CurrentLicense  `yaml:"current"`
	Previous PreviousLicense `yaml:"previous"`
}

type CurrentLicense struct {
	Type         string   `yaml:"type"`
	Number       string   `yaml:"number"`
	Expiration   string   `yaml:"expiration"`
	Restrictions []string `yaml:"restrictions"`
}

type PreviousLicense struct {
	AssistedBy string `yaml:"assisted_by"`
}

type Documentation struct {
	PreferredFormat string `yaml:"preferred_format"`
}

type Payment struct {
	Method string `yaml:"method"`
}

// Metadata carries the personalization inputs consumed by the calibration
// subsystem: the numeric communication preferences, name/title preferences,
// demographics, and the free-text bagman description.
type Metadata struct {
	CommunicationPreferences CommunicationPreferences `yaml:"communication_preferences"`
	NamePreference           NamePreference           `yaml:"name_preference"`
	Demographics             Demographics             `yaml:"demographics"`
	BagmanDescription        string                   `yaml:"bagman_description"`
}

// CommunicationPreferences are the three numeric dials on a 1..5 scale:
// interaction style (1=methodical, 5=efficient), detail level (1=maximum,
// 5=minimal), rapport level (1=personal, 5=professional). Zero means the
// preference was not documented.
type CommunicationPreferences struct {
	InteractionStyle int `yaml:"interaction_style"`
	DetailLevel      int `yaml:"detail_level"`
	RapportLevel     int `yaml:"rapport_level"`
}

type NamePreference struct {
	PreferredName     string `yaml:"preferred_name"`
	TitleRequired     bool   `yaml:"title_required"`
	ProfessionalTitle string `yaml:"professional_title"`
	FormalityLevel    string `yaml:"formality_level"`
}

type Demographics struct {
	AgeCategory        string `yaml:"age_category"`
	ProfessionalStatus string `yaml:"professional_status"`
}
