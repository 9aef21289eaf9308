package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"listingopt/internal/domain"
)

type aspectPayload struct {
	Quality string   `json:"quality"`
	Issues  []string `json:"issues"`
}

type clutterPayload struct {
	Level string   `json:"level"`
	Items []string `json:"items"`
}

type analysisPayload struct {
	RoomType    string         `json:"roomType"`
	Lighting    aspectPayload  `json:"lighting"`
	Composition aspectPayload  `json:"composition"`
	Clutter     clutterPayload `json:"clutter"`
	Color       aspectPayload  `json:"color"`
	Priorities  []string       `json:"priorities"`
	Confidence  float64        `json:"confidence"`
}

const analysisSchema = `{"roomType":"living_room|bedroom|kitchen|bathroom|dining_room|exterior|outdoor|workspace|entrance|other",` +
	`"lighting":{"quality":"good|fair|poor|too_dark|overexposed","issues":string[]},` +
	`"composition":{"quality":"good|fair|poor","issues":string[]},` +
	`"clutter":{"level":"none|low|medium|high","items":string[]},` +
	`"color":{"quality":"good|fair|poor","issues":string[]},` +
	`"priorities":string[],"confidence":number}`

func buildAnalysisPrompt(in domain.ImageInput) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a real-estate photo editor reviewing a short-term rental listing photo. ")
	sb.WriteString("Classify the room and assess lighting, composition, clutter and color. ")
	sb.WriteString("Only flag an issue if it is clearly visible. Respond strictly with JSON matching this schema: ")
	sb.WriteString(analysisSchema)
	sb.WriteString(". List priorities as short imperative phrases, most important first. Confidence is between 0 and 1.")
	if in.RoomTypeHint != "" && in.RoomTypeHint != domain.RoomTypeOther {
		fmt.Fprintf(sb, " The host describes the listing as %q.", string(in.RoomTypeHint))
	}
	if in.StyleReference {
		sb.WriteString(" This photo is the style reference for the rest of the listing.")
	}
	return sb.String()
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// toAnalysis normalizes the model's free-form answer onto the domain enums.
func toAnalysis(p analysisPayload) domain.Analysis {
	room, _ := domain.ParseRoomType(p.RoomType)
	confidence := p.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return domain.Analysis{
		RoomType:    room,
		Lighting:    domain.Aspect{Quality: normalizeQuality(p.Lighting.Quality), Issues: cleanList(p.Lighting.Issues)},
		Composition: domain.Aspect{Quality: normalizeQuality(p.Composition.Quality), Issues: cleanList(p.Composition.Issues)},
		Clutter:     domain.Clutter{Level: normalizeClutter(p.Clutter.Level), Items: cleanList(p.Clutter.Items)},
		Color:       domain.Aspect{Quality: normalizeQuality(p.Color.Quality), Issues: cleanList(p.Color.Issues)},
		Priorities:  cleanList(p.Priorities),
		Confidence:  confidence,
	}
}

func normalizeQuality(raw string) string {
	switch normalizeToken(raw) {
	case domain.QualityGood, "excellent", "great":
		return domain.QualityGood
	case domain.QualityPoor, "bad":
		return domain.QualityPoor
	case domain.QualityTooDark, "dark", "underexposed", "dim":
		return domain.QualityTooDark
	case domain.QualityOverexposed, "too_bright", "blown_out":
		return domain.QualityOverexposed
	default:
		return domain.QualityFair
	}
}

func normalizeClutter(raw string) string {
	switch normalizeToken(raw) {
	case domain.ClutterNone, "clean", "minimal":
		return domain.ClutterNone
	case domain.ClutterMedium, "moderate", "some":
		return domain.ClutterMedium
	case domain.ClutterHigh, "heavy", "cluttered":
		return domain.ClutterHigh
	default:
		return domain.ClutterLow
	}
}

func normalizeToken(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func cleanList(items []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
