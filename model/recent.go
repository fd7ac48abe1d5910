package model

// Recent returns the last limit ids of an ascending id list, newest first.
// A non-positive limit keeps every id.
func Recent[T any](ids []T, limit int) []T {
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]T, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
