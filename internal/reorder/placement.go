package reorder

import (
	"errors"
	"fmt"

	"kanban/api/internal/orderkey"
	"kanban/api/internal/store"
)

type placementKind int

const (
	placeEnd placementKind = iota
	placeStart
	placeAfter
	placeBefore
	placeBetween
)

// Placement says where an item should land among its siblings. The zero
// value places at the end.
type Placement struct {
	kind   placementKind
	after  string
	before string
}

func Start() Placement { return Placement{kind: placeStart} }

func End() Placement { return Placement{kind: placeEnd} }

func After(id string) Placement { return Placement{kind: placeAfter, after: id} }

func Before(id string) Placement { return Placement{kind: placeBefore, before: id} }

func Between(afterID, beforeID string) Placement {
	return Placement{kind: placeBetween, after: afterID, before: beforeID}
}

// FromAnchors maps optional after/before anchor ids onto a placement.
func FromAnchors(afterID, beforeID string) Placement {
	switch {
	case afterID != "" && beforeID != "":
		return Between(afterID, beforeID)
	case afterID != "":
		return After(afterID)
	case beforeID != "":
		return Before(beforeID)
	default:
		return End()
	}
}

func (p Placement) String() string {
	switch p.kind {
	case placeStart:
		return "start"
	case placeAfter:
		return "after(" + p.after + ")"
	case placeBefore:
		return "before(" + p.before + ")"
	case placeBetween:
		return "between(" + p.after + ", " + p.before + ")"
	default:
		return "end"
	}
}

var errUnresolved = errors.New("placement does not resolve")

// resolve turns p into exclusive key bounds within group, ignoring the
// entry with id movingID. An empty bound is open.
func resolve(group []store.Entry, p Placement, movingID string) (left, right orderkey.Key, err error) {
	siblings := make([]store.Entry, 0, len(group))
	for _, entry := range group {
		if entry.ID != movingID {
			siblings = append(siblings, entry)
		}
	}
	indexOf := func(id string) int {
		for i, entry := range siblings {
			if entry.ID == id {
				return i
			}
		}
		return -1
	}
	successor := func(i int) orderkey.Key {
		if i+1 < len(siblings) {
			return siblings[i+1].Key
		}
		return ""
	}

	switch p.kind {
	case placeStart:
		if len(siblings) == 0 {
			return "", "", nil
		}
		return "", siblings[0].Key, nil

	case placeAfter:
		i := indexOf(p.after)
		if i < 0 {
			return "", "", fmt.Errorf("%w: after anchor %q not in group", errUnresolved, p.after)
		}
		return siblings[i].Key, successor(i), nil

	case placeBefore:
		i := indexOf(p.before)
		if i < 0 {
			return "", "", fmt.Errorf("%w: before anchor %q not in group", errUnresolved, p.before)
		}
		if i == 0 {
			return "", siblings[0].Key, nil
		}
		return siblings[i-1].Key, siblings[i].Key, nil

	case placeBetween:
		i, j := indexOf(p.after), indexOf(p.before)
		if i < 0 || j < 0 {
			return "", "", fmt.Errorf("%w: anchors %q/%q not in group", errUnresolved, p.after, p.before)
		}
		if j <= i {
			return "", "", fmt.Errorf("%w: anchor %q does not precede %q", errUnresolved, p.after, p.before)
		}
		// the tightest gap next to the after anchor
		return siblings[i].Key, siblings[i+1].Key, nil

	default:
		if len(siblings) == 0 {
			return "", "", nil
		}
		return siblings[len(siblings)-1].Key, "", nil
	}
}
