package controller

import (
	"regexp"
	"strings"

	"github.com/kalambet/obi/internal/calibration"
)

// Transform adjusts response text for a demographic category. The dispatch
// tables below keep the categories pluggable; the current transforms are
// identity functions pending real adaptation rules.
type Transform func(string) string

var ageTransforms = map[string]Transform{
	"senior": enhanceClarity,
	"youth":  simplifyLanguage,
}

var statusTransforms = map[string]Transform{
	"active":  optimizeForProfessional,
	"retired": enhanceDetail,
}

// ApplyControls post-processes a generated response: professional-title
// insertion before the preferred name, then any demographic adaptations.
// It is the identity when no relevant preferences are set and never fails;
// the worst case is returning the text unchanged.
func ApplyControls(text string, c calibration.Controls) string {
	out := text

	if c.TitleRequired && c.ProfessionalTitle != "" && c.PreferredName != "" {
		titled := c.ProfessionalTitle + " " + c.PreferredName
		if !strings.Contains(out, titled) {
			out = strings.ReplaceAll(out, c.PreferredName, titled)
		}
	}

	if t, ok := ageTransforms[c.AgeCategory]; ok {
		out = t(out)
	}
	if t, ok := statusTransforms[c.ProfessionalStatus]; ok {
		out = t(out)
	}
	return out
}

func enhanceClarity(text string) string          { return text }
func simplifyLanguage(text string) string        { return text }
func optimizeForProfessional(text string) string { return text }
func enhanceDetail(text string) string           { return text }

var (
	dollarSpaceRe   = regexp.MustCompile(`\$\s+(\d)`)
	digitWordRe     = regexp.MustCompile(`(\d+)([a-zA-Z])`)
	wordDigitRe     = regexp.MustCompile(`([a-zA-Z])(\d+)`)
	bulletAfterEnd  = regexp.MustCompile(`([.!?])\s*(•)`)
	bulletInlineRe  = regexp.MustCompile(`([^•])\s*•`)
	trailingQuestRe = regexp.MustCompile(`([.!?])\s*(Which|What|How|Would|Could|Can|Do|Does|Is|Are|Should|Will|Where|When)\s`)
)

// NormalizeFormatting fixes recurring formatting defects in generated text:
// stray spaces after dollar signs, digits glued to words, bullets run into
// sentences, and questions tacked onto the end of a paragraph.
func NormalizeFormatting(text string) string {
	text = dollarSpaceRe.ReplaceAllString(text, "$$$1")
	text = digitWordRe.ReplaceAllString(text, "$1 $2")
	text = wordDigitRe.ReplaceAllString(text, "$1 $2")
	text = bulletAfterEnd.ReplaceAllString(text, "$1\n\n$2")
	text = bulletInlineRe.ReplaceAllString(text, "$1\n\n•")
	text = trailingQuestRe.ReplaceAllString(text, "$1\n\n$2 ")
	return text
}
