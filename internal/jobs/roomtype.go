package jobs

import "listingopt/internal/domain"

// ResolveRoomType picks the room type used for a photo. A listing-level hint
// that maps to a known category wins; otherwise the analyzer's detection is
// used unless it is the generic fallback. Generation requests and image pairs
// both call this so the two never disagree.
func ResolveRoomType(hint, detected domain.RoomType) domain.RoomType {
	if rt, ok := known(hint); ok {
		return rt
	}
	if rt, ok := known(detected); ok {
		return rt
	}
	return domain.RoomTypeOther
}

func known(rt domain.RoomType) (domain.RoomType, bool) {
	if rt == "" {
		return "", false
	}
	parsed, ok := domain.ParseRoomType(string(rt))
	if !ok || parsed == domain.RoomTypeOther {
		return "", false
	}
	return parsed, true
}
