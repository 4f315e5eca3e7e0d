package likes

import "sort"

// Diff returns the likers present in after but not in before, sorted for
// deterministic downstream batching. When the sole newly-added liker is the
// message's own author the delta is suppressed (empty result): an author
// liking their own message, or un-liking and re-liking it, does not warrant
// a notification.
func Diff(before, after []string, authorID string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, u := range before {
		seen[u] = struct{}{}
	}
	var added []string
	for _, u := range after {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		added = append(added, u)
	}
	if len(added) == 1 && added[0] == authorID {
		return nil
	}
	sort.Strings(added)
	return added
}
