package chat

import (
	"sort"
	"time"
)

// Compare orders two messages of the same conversation. It returns a negative
// number when a sorts before b, zero when they are the same message and a
// positive number otherwise.
func Compare(a, b ChatMessage) int {
	ap, bp := a.Ref.IsPending(), b.Ref.IsPending()
	switch {
	case ap && !bp:
		return 1
	case !ap && bp:
		return -1
	case ap && bp:
		if c := compareTime(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return compareString(a.Key(), b.Key())
	}
	return ComparePosition(a.Timestamp, a.ServerID(), b.Timestamp, b.ServerID())
}

// ComparePosition orders two confirmed positions (timestamp, id).
func ComparePosition(ats time.Time, aid string, bts time.Time, bid string) int {
	if c := compareTime(ats, bts); c != 0 {
		return c
	}
	as, bs := Seq(aid), Seq(bid)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return compareString(aid, bid)
}

// Sort orders msgs in place by Compare.
func Sort(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return Compare(msgs[i], msgs[j]) < 0
	})
}

// IsSorted reports whether msgs is in Compare order.
func IsSorted(msgs []ChatMessage) bool {
	for i := 1; i < len(msgs); i++ {
		if Compare(msgs[i-1], msgs[i]) > 0 {
			return false
		}
	}
	return true
}

// Latest returns the greatest confirmed message of msgs.
func Latest(msgs []ChatMessage) (ChatMessage, bool) {
	var best ChatMessage
	found := false
	for _, m := range msgs {
		if !m.Ref.IsConfirmed() {
			continue
		}
		if !found || Compare(m, best) > 0 {
			best, found = m, true
		}
	}
	return best, found
}

// LatestBefore returns the greatest confirmed message strictly before the
// position (ts, serverID).
func LatestBefore(msgs []ChatMessage, ts time.Time, serverID string) (ChatMessage, bool) {
	var best ChatMessage
	found := false
	for _, m := range msgs {
		if !m.Ref.IsConfirmed() {
			continue
		}
		if ComparePosition(m.Timestamp, m.ServerID(), ts, serverID) >= 0 {
			continue
		}
		if !found || Compare(m, best) > 0 {
			best, found = m, true
		}
	}
	return best, found
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
