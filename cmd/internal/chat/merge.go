package chat

import "sort"

// Merge combines two message collections into one deduplicated collection
// ordered ascending by creation instant.
//
// Deduplication is by id, and the incoming copy wins. That single rule
// covers both "confirm an optimistic message with the server record" and
// "overwrite a stale copy".
//
// Merge is pure and idempotent: Merge(Merge(a, b), b) == Merge(a, b).
// Ties on identical timestamps keep their arrival order, so repeated calls
// with the same inputs produce the same sequence.
func Merge(existing, incoming []Message) []Message {
	merged := make([]Message, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	for _, set := range [][]Message{existing, incoming} {
		for _, msg := range set {
			if at, ok := index[msg.ID]; ok {
				merged[at] = msg
				continue
			}
			index[msg.ID] = len(merged)
			merged = append(merged, msg)
		}
	}

	sortByInstant(merged)
	return merged
}

// Sort returns a copy of msgs ordered ascending by creation instant.
func Sort(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sortByInstant(out)
	return out
}

// sortByInstant orders by the parsed timestamp, not the raw string, so
// timestamps differing only in fractional seconds still order correctly.
// The sort is stable to keep tie order deterministic.
func sortByInstant(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Instant().Before(msgs[j].Instant())
	})
}
