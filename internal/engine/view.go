package engine

import (
	"slices"

	"github.com/roach88/hirechat/internal/chat"
)

// mergeView folds msgs into list and returns it in chat.Compare order.
// A message already present is merged with chat.Merge; a confirmed message
// carrying a local key replaces its pending row.
func mergeView(list []chat.ChatMessage, msgs ...chat.ChatMessage) []chat.ChatMessage {
	for _, m := range msgs {
		if m.Ref.IsConfirmed() && m.LocalKey != "" {
			pendingKey := chat.Pending(m.LocalKey).Key()
			if i := indexOf(list, pendingKey); i >= 0 {
				if indexOf(list, m.Key()) < 0 {
					m = chat.Merge(list[i], m)
				}
				list = slices.Delete(list, i, i+1)
			}
		}
		if m.Ref.IsPending() && m.LocalKey != "" && hasConfirmed(list, m.LocalKey) {
			continue
		}
		if i := indexOf(list, m.Key()); i >= 0 {
			list[i] = chat.Merge(list[i], m)
			continue
		}
		list = append(list, m.Clone())
	}
	chat.Sort(list)
	return list
}

func indexOf(list []chat.ChatMessage, key string) int {
	return slices.IndexFunc(list, func(m chat.ChatMessage) bool { return m.Key() == key })
}

func hasConfirmed(list []chat.ChatMessage, localKey string) bool {
	return slices.ContainsFunc(list, func(m chat.ChatMessage) bool {
		return m.Ref.IsConfirmed() && m.LocalKey == localKey
	})
}

// updateView replaces the row with the same key, if present.
func updateView(list []chat.ChatMessage, m chat.ChatMessage) bool {
	if i := indexOf(list, m.Key()); i >= 0 {
		list[i] = m.Clone()
		return true
	}
	return false
}

func findInView(list []chat.ChatMessage, serverID string) (chat.ChatMessage, bool) {
	i := indexOf(list, chat.Confirmed(serverID).Key())
	if i < 0 {
		return chat.ChatMessage{}, false
	}
	return list[i], true
}

func sortedGroups(groups map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(groups))
	for id := range groups {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
