package discovery

// FilterNew returns the fetched ids not present in existing, preserving
// fetch order and dropping duplicates within the fetch itself. Matching is
// exact: external ids are stable opaque strings, never fuzzy-compared.
func FilterNew(fetched []string, existing map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(fetched))
	fresh := make([]string, 0, len(fetched))
	for _, id := range fetched {
		if id == "" {
			continue
		}
		if _, ok := existing[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}
