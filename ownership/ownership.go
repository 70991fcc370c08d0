package ownership

import "context"

// Level is a per-user pin visibility level.
type Level int

const (
	LevelNone     Level = 0
	LevelObserver Level = 1
	LevelOwner    Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelObserver:
		return "observer"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// DefaultKey is the map entry applied to users without an explicit level.
const DefaultKey = "default"

// User is the minimal identity the calculator needs. GM users always own
// every pin regardless of quest or objective visibility.
type User struct {
	ID string
	GM bool
}

// Directory lists the users an ownership map must cover.
type Directory interface {
	Users(ctx context.Context) ([]User, error)
}

// Map is a per-user visibility map keyed by user ID, plus a DefaultKey
// entry for everyone else.
type Map map[string]Level

// For derives the ownership map for a pin backing the given quest
// visibility and, for objective pins, the objective's hidden state. It is
// a pure function: identical inputs always produce an equal map, which
// reconciliation relies on for idempotence.
func For(questVisible, objectiveHidden bool, users []User) Map {
	masked := !questVisible || objectiveHidden

	m := make(Map, len(users)+1)
	if masked {
		m[DefaultKey] = LevelNone
	} else {
		m[DefaultKey] = LevelObserver
	}
	for _, u := range users {
		switch {
		case u.GM:
			m[u.ID] = LevelOwner
		case masked:
			m[u.ID] = LevelNone
		default:
			m[u.ID] = LevelObserver
		}
	}
	return m
}
