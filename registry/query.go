package registry

import (
	"sort"

	"relaydir/registry/model"
)

// SortKey selects the comparator for a directory query.
type SortKey string

const (
	SortByScore  SortKey = "score"
	SortBySpeed  SortKey = "speed"
	SortByPing   SortKey = "ping"
	SortByUptime SortKey = "uptime"
	SortByUsers  SortKey = "users"
)

const (
	DefaultLimit  = 50
	DefaultOffset = 0
)

// ParseSortKey maps a request parameter to a sort key, degrading to the
// default on anything unrecognized.
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortBySpeed, SortByPing, SortByUptime, SortByUsers:
		return SortKey(s)
	default:
		return SortByScore
	}
}

// Page is one sorted, paginated view over a record set.
type Page struct {
	Records []*model.ServerRecord
	Total   int
	HasMore bool
}

// Query sorts a copy of records by sortKey and slices out one page. The
// input slice is never mutated; it may be concurrently read elsewhere.
//
// Out-of-range pagination degrades instead of failing: a negative offset
// becomes 0, a non-positive limit becomes DefaultLimit, and an offset past
// the end yields an empty page.
func Query(records []*model.ServerRecord, sortKey SortKey, offset, limit int) Page {
	if offset < 0 {
		offset = DefaultOffset
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	sorted := make([]*model.ServerRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, comparator(sortKey, sorted))

	total := len(sorted)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return Page{
		Records: sorted[offset:end],
		Total:   total,
		HasMore: offset+limit < total,
	}
}

// comparator returns the less function for a sort key.
//
// Ping sorts ascending on the permissively parsed value, so a non-numeric
// ping parses as 0 and sorts first — an upstream quirk that is preserved,
// not fixed. Users sorts ascending because fewer concurrent sessions on a
// relay is considered preferable.
func comparator(sortKey SortKey, s []*model.ServerRecord) func(i, j int) bool {
	switch sortKey {
	case SortBySpeed:
		return func(i, j int) bool { return s[i].SpeedBitsPerSecond > s[j].SpeedBitsPerSecond }
	case SortByPing:
		return func(i, j int) bool {
			return model.PermissiveAtoi(s[i].PingMillis) < model.PermissiveAtoi(s[j].PingMillis)
		}
	case SortByUptime:
		return func(i, j int) bool { return s[i].UptimeSeconds > s[j].UptimeSeconds }
	case SortByUsers:
		return func(i, j int) bool { return s[i].ActiveSessionCount < s[j].ActiveSessionCount }
	default:
		return func(i, j int) bool { return s[i].QualityScore > s[j].QualityScore }
	}
}
