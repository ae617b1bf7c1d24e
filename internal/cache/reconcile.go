package cache

import (
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// FuzzyWindow is the created_at tolerance under which two records from the
// same sender with identical content are treated as one message.
const FuzzyWindow = 2 * time.Second

// Match says which identity rule, if any, tied two records together.
type Match int

const (
	NoMatch Match = iota
	MatchServerID
	MatchClientID
	MatchFuzzy
)

func (m Match) String() string {
	switch m {
	case MatchServerID:
		return "server_id"
	case MatchClientID:
		return "client_id"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Reconcile decides whether incoming is the same logical message as
// existing. Rules are tried in priority order: server id, client
// correlation id, then sender + content + created_at within FuzzyWindow.
func Reconcile(existing, incoming model.Message) Match {
	if existing.ID.IsServer() && existing.ID == incoming.ID {
		return MatchServerID
	}
	if incoming.ClientMessageID != "" && existing.ClientMessageID == incoming.ClientMessageID {
		return MatchClientID
	}
	if incoming.Content != "" &&
		existing.SenderID == incoming.SenderID &&
		existing.Content == incoming.Content &&
		absDuration(existing.CreatedAt.Sub(incoming.CreatedAt)) < FuzzyWindow {
		return MatchFuzzy
	}
	return NoMatch
}

// find runs Reconcile against msgs one rule at a time so that a server id
// match anywhere in the sequence beats a client id match earlier in it.
func find(msgs []model.Message, incoming model.Message) (int, Match) {
	for _, rule := range []Match{MatchServerID, MatchClientID, MatchFuzzy} {
		for i := range msgs {
			if Reconcile(msgs[i], incoming) == rule {
				return i, rule
			}
		}
	}
	return -1, NoMatch
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
