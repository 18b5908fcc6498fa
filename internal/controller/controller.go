// Package controller turns calibrated communication controls into the
// behavioral instruction text injected into the model's system prompt, and
// applies lightweight post-processing to generated responses.
package controller

import (
	"fmt"
	"strings"

	"github.com/kalambet/obi/internal/calibration"
)

// Label thresholds for the qualitative restatement of the numeric controls:
// values at or below lowLabelMax get the low-end label, values at or above
// highLabelMin get the high-end label, everything between is "balanced".
const (
	lowLabelMax  = 2.0
	highLabelMin = 4.0
)

// formalityInstructionThreshold gates emission of the title/formality
// directives; below it they are omitted from the instruction block.
const formalityInstructionThreshold = 50.0

// GenerateStyleInstructions produces the behavioral instruction block for
// the given controls and differentiation level. The output is deterministic
// for identical inputs; its wording is a contract with the model and must
// stay stable across calibration cycles.
func GenerateStyleInstructions(c calibration.Controls, level float64) string {
	var b strings.Builder

	b.WriteString("Please adjust your communication style:\n")
	fmt.Fprintf(&b, "- Interaction Style: %s (%.1f)\n", interactionLabel(c.InteractionStyle), c.InteractionStyle)
	fmt.Fprintf(&b, "- Detail Level: %s (%.1f)\n", detailLabel(c.DetailLevel), c.DetailLevel)
	fmt.Fprintf(&b, "- Rapport Level: %s (%.1f)\n", rapportLabel(c.RapportLevel), c.RapportLevel)

	b.WriteString("\nBehavioral Guidance:\n")
	b.WriteString(interactionGuidance(c.InteractionStyle))
	b.WriteString(detailGuidance(c.DetailLevel))
	b.WriteString(rapportGuidance(c.RapportLevel))

	b.WriteString("\nContext Usage:\n")
	switch calibration.BandFor(level) {
	case calibration.BandMinimal:
		b.WriteString("- Reference context only for essential details\n")
		b.WriteString("- Focus on standard procedures\n")
		b.WriteString("- Maintain formal, protocol-based responses\n")
	case calibration.BandModerate:
		b.WriteString("- Incorporate context naturally\n")
		b.WriteString("- Balance personal details with procedures\n")
		b.WriteString("- Adapt responses while maintaining focus\n")
	default:
		b.WriteString("- Fully utilize relevant context\n")
		b.WriteString("- Personalize responses appropriately\n")
		b.WriteString("- Maintain professional standards\n")
	}

	if level > formalityInstructionThreshold {
		if c.TitleRequired && c.ProfessionalTitle != "" {
			fmt.Fprintf(&b, "- Use title: %s\n", c.ProfessionalTitle)
		}
		fmt.Fprintf(&b, "- Maintain %s tone\n", c.FormalityLevel)
	}

	return strings.TrimRight(b.String(), "\n")
}

func interactionLabel(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "methodical"
	case v >= highLabelMin:
		return "efficient"
	default:
		return "balanced"
	}
}

func detailLabel(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "maximum"
	case v >= highLabelMin:
		return "minimal"
	default:
		return "balanced"
	}
}

func rapportLabel(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "personal"
	case v >= highLabelMin:
		return "professional"
	default:
		return "balanced"
	}
}

func interactionGuidance(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "- Provide methodical, step-by-step guidance\n- Break down complex topics into manageable steps\n"
	case v >= highLabelMin:
		return "- Be efficient and direct\n- Focus on key points without unnecessary elaboration\n"
	default:
		return "- Balance step-by-step guidance with efficient delivery\n- Provide clear structure while maintaining conciseness\n"
	}
}

func detailGuidance(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "- Provide comprehensive explanations\n- Include relevant background information\n"
	case v >= highLabelMin:
		return "- Keep details minimal and focused\n- Include only essential information\n"
	default:
		return "- Maintain balanced detail level\n- Include important context without excess\n"
	}
}

func rapportGuidance(v float64) string {
	switch {
	case v <= lowLabelMax:
		return "- Maintain a warm, personal tone\n- Show empathy and acknowledge personal context\n"
	case v >= highLabelMin:
		return "- Keep tone strictly professional\n- Focus on facts and procedures\n"
	default:
		return "- Balance professional and personal elements\n- Show appropriate warmth while maintaining professionalism\n"
	}
}

// CaseFile renders the calibrated parameters for the case-file viewer.
func CaseFile(c calibration.Controls, level float64) string {
	return fmt.Sprintf(
		"COMMUNICATION PARAMETERS\nInteraction Style: %.1f\nDetail Level: %.1f\nRapport Level: %.1f\nDifferentiation Level: %g",
		c.InteractionStyle, c.DetailLevel, c.RapportLevel, level,
	)
}
