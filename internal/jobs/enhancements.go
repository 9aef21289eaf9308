package jobs

import (
	"strings"

	"listingopt/internal/domain"
)

// GenericEnhancement is reported when the analysis flagged nothing specific.
const GenericEnhancement = "Applied professional enhancement"

// Enhancements lists what the generator was asked to fix, one bullet per
// issue actually flagged in the analysis.
func Enhancements(a *domain.Analysis) []string {
	if a == nil {
		return []string{}
	}
	var out []string

	switch a.Lighting.Quality {
	case domain.QualityPoor, domain.QualityTooDark:
		out = append(out, "Brightened lighting and lifted shadows")
	case domain.QualityOverexposed:
		out = append(out, "Recovered overexposed highlights")
	}

	if flagged(a.Composition.Quality) || len(a.Composition.Issues) > 0 {
		out = append(out, "Straightened lines and improved framing")
	}

	if a.Clutter.Level == domain.ClutterMedium || a.Clutter.Level == domain.ClutterHigh {
		bullet := "Reduced visual clutter"
		if len(a.Clutter.Items) > 0 {
			bullet += " (" + strings.Join(a.Clutter.Items, ", ") + ")"
		}
		out = append(out, bullet)
	}

	if flagged(a.Color.Quality) || len(a.Color.Issues) > 0 {
		out = append(out, "Balanced white balance and color vibrancy")
	}

	if len(out) == 0 {
		out = []string{GenericEnhancement}
	}
	return out
}

func flagged(quality string) bool {
	switch quality {
	case domain.QualityPoor, domain.QualityTooDark, domain.QualityOverexposed:
		return true
	default:
		return false
	}
}
