package image

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"listingopt/internal/domain"
)

// PreserveGuard is appended to every enhancement instruction.
const PreserveGuard = "Keep the exact room layout, furniture, architecture and camera angle. Do not add, remove or invent objects, people, text or watermarks. The result must remain an honest photo of the same space."

var titleCaser = cases.Title(language.English)

// RoomLabel renders a room type for humans, e.g. "living_room" -> "Living Room".
func RoomLabel(room domain.RoomType) string {
	if room == "" {
		room = domain.RoomTypeOther
	}
	return titleCaser.String(strings.ReplaceAll(string(room), "_", " "))
}

// BuildEnhancementPrompt converts a photo analysis into an editing instruction
// for an image model. Only issues that were actually flagged are mentioned.
func BuildEnhancementPrompt(room domain.RoomType, a domain.Analysis) string {
	var lines []string

	if room == domain.RoomTypeOther || room == "" {
		lines = append(lines, "Enhance this vacation rental listing photo so it looks professionally shot.")
	} else {
		lines = append(lines, fmt.Sprintf("Enhance this %s photo from a vacation rental listing so it looks professionally shot.", strings.ToLower(RoomLabel(room))))
	}

	switch a.Lighting.Quality {
	case domain.QualityPoor, domain.QualityTooDark:
		lines = append(lines, "Brighten the scene with natural, even light and lift the shadows.")
	case domain.QualityOverexposed:
		lines = append(lines, "Recover blown-out highlights, especially around windows.")
	}
	if issues := joinIssues(a.Lighting.Issues); issues != "" && flagged(a.Lighting.Quality) {
		lines = append(lines, "Lighting issues to fix: "+issues+".")
	}

	if flagged(a.Composition.Quality) || len(a.Composition.Issues) > 0 {
		line := "Straighten vertical lines and tidy the framing."
		if issues := joinIssues(a.Composition.Issues); issues != "" {
			line += " Composition issues: " + issues + "."
		}
		lines = append(lines, line)
	}

	if a.Clutter.Level == domain.ClutterMedium || a.Clutter.Level == domain.ClutterHigh {
		line := "Reduce visual clutter on surfaces without removing furniture."
		if items := joinIssues(a.Clutter.Items); items != "" {
			line += " Tidy away: " + items + "."
		}
		lines = append(lines, line)
	}

	if flagged(a.Color.Quality) || len(a.Color.Issues) > 0 {
		line := "Correct white balance and restore natural, vibrant colors without oversaturating."
		if issues := joinIssues(a.Color.Issues); issues != "" {
			line += " Color issues: " + issues + "."
		}
		lines = append(lines, line)
	}

	if len(a.Priorities) > 0 {
		lines = append(lines, "Priorities, most important first: "+strings.Join(a.Priorities, "; ")+".")
	}
	if note := strings.TrimSpace(a.ConsistencyNote); note != "" {
		lines = append(lines, note)
	}
	if a.StyleReference {
		lines = append(lines, "This photo sets the reference look for the rest of the listing; keep the grade natural and repeatable.")
	}

	lines = append(lines, PreserveGuard)
	return strings.Join(lines, "\n")
}

func flagged(quality string) bool {
	switch quality {
	case domain.QualityPoor, domain.QualityTooDark, domain.QualityOverexposed:
		return true
	default:
		return false
	}
}

func joinIssues(items []string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}
