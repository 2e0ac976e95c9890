package cache

import "strings"

// UserTagKind namespaces tags that group every entry cached for one caller.
const UserTagKind = "user"

// UserTag returns "user:<ownerID>".
func UserTag(ownerID string) string {
	return EntityTag(UserTagKind, ownerID)
}

// EntityTag returns "<kind>:<id>".
func EntityTag(kind, id string) string {
	return kind + KeySeparator + id
}

// Tags builds the tag set for an entry scoped to ownerID and, optionally, to
// specific records of kind. Blank ids are skipped.
func Tags(ownerID, kind string, entityIDs ...string) []string {
	tags := make([]string, 0, len(entityIDs)+1)
	if strings.TrimSpace(ownerID) != "" {
		tags = append(tags, UserTag(ownerID))
	}
	for _, id := range entityIDs {
		if strings.TrimSpace(id) == "" || kind == "" {
			continue
		}
		tags = append(tags, EntityTag(kind, id))
	}
	return dedupeStrings(tags)
}
