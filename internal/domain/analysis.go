package domain

import (
	"regexp"
	"strings"
)

// RoomType is the category a listing photo is classified into.
type RoomType string

const (
	RoomTypeLivingRoom RoomType = "living_room"
	RoomTypeBedroom    RoomType = "bedroom"
	RoomTypeKitchen    RoomType = "kitchen"
	RoomTypeBathroom   RoomType = "bathroom"
	RoomTypeDiningRoom RoomType = "dining_room"
	RoomTypeExterior   RoomType = "exterior"
	RoomTypeOutdoor    RoomType = "outdoor"
	RoomTypeWorkspace  RoomType = "workspace"
	RoomTypeEntrance   RoomType = "entrance"
	RoomTypeOther      RoomType = "other"
)

// roomTypeAliases maps normalized free text onto known categories. Order
// matters: the first matching alias wins, so compound names ("dining room")
// must precede their parts ("room").
var roomTypeAliases = []struct {
	room    RoomType
	pattern *regexp.Regexp
}{
	{RoomTypeDiningRoom, regexp.MustCompile(`\bdining\b`)},
	{RoomTypeLivingRoom, regexp.MustCompile(`\b(living|lounge|family room|sitting room|den)\b`)},
	{RoomTypeBedroom, regexp.MustCompile(`\b(bedroom|bed room|sleeping|master suite|loft bed)\b`)},
	{RoomTypeKitchen, regexp.MustCompile(`\b(kitchen|kitchenette)\b`)},
	{RoomTypeBathroom, regexp.MustCompile(`\b(bathroom|bath|shower|toilet|restroom|powder room|wc)\b`)},
	{RoomTypeWorkspace, regexp.MustCompile(`\b(workspace|office|study|desk)\b`)},
	{RoomTypeEntrance, regexp.MustCompile(`\b(entrance|entry|foyer|hallway)\b`)},
	{RoomTypeExterior, regexp.MustCompile(`\b(exterior|facade|building|front of house)\b`)},
	{RoomTypeOutdoor, regexp.MustCompile(`\b(outdoor|patio|balcony|terrace|garden|backyard|pool|deck|yard)\b`)},
}

// ParseRoomType maps free text onto a known room type. The second result is
// false when nothing matched; RoomTypeOther is returned in that case.
func ParseRoomType(s string) (RoomType, bool) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return RoomTypeOther, false
	}
	text = strings.NewReplacer("_", " ", "-", " ").Replace(text)
	switch RoomType(strings.ReplaceAll(text, " ", "_")) {
	case RoomTypeLivingRoom, RoomTypeBedroom, RoomTypeKitchen, RoomTypeBathroom,
		RoomTypeDiningRoom, RoomTypeExterior, RoomTypeOutdoor, RoomTypeWorkspace,
		RoomTypeEntrance:
		return RoomType(strings.ReplaceAll(text, " ", "_")), true
	case RoomTypeOther:
		return RoomTypeOther, true
	}
	for _, alias := range roomTypeAliases {
		if alias.pattern.MatchString(text) {
			return alias.room, true
		}
	}
	return RoomTypeOther, false
}

// Quality levels reported by the analyzer.
const (
	QualityGood        = "good"
	QualityFair        = "fair"
	QualityPoor        = "poor"
	QualityTooDark     = "too_dark"
	QualityOverexposed = "overexposed"
)

// Clutter levels reported by the analyzer.
const (
	ClutterNone   = "none"
	ClutterLow    = "low"
	ClutterMedium = "medium"
	ClutterHigh   = "high"
)

// Aspect describes one quality dimension of a photo.
type Aspect struct {
	Quality string   `json:"quality"`
	Issues  []string `json:"issues,omitempty"`
}

// Clutter describes how busy a photo looks.
type Clutter struct {
	Level string   `json:"level"`
	Items []string `json:"items,omitempty"`
}

// Analysis is the structured quality and room-type assessment of a photo.
type Analysis struct {
	RoomType        RoomType `json:"roomType"`
	Lighting        Aspect   `json:"lighting"`
	Composition     Aspect   `json:"composition"`
	Clutter         Clutter  `json:"clutter"`
	Color           Aspect   `json:"color"`
	Priorities      []string `json:"priorities,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	StyleReference  bool     `json:"styleReference,omitempty"`
	ConsistencyNote string   `json:"consistencyNote,omitempty"`
}

// Clone returns a deep copy of the analysis.
func (a Analysis) Clone() Analysis {
	out := a
	out.Lighting.Issues = append([]string(nil), a.Lighting.Issues...)
	out.Composition.Issues = append([]string(nil), a.Composition.Issues...)
	out.Color.Issues = append([]string(nil), a.Color.Issues...)
	out.Clutter.Items = append([]string(nil), a.Clutter.Items...)
	out.Priorities = append([]string(nil), a.Priorities...)
	return out
}
