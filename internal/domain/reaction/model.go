// Package reaction models mutually-exclusive tags users apply to proof
// content, with per-tag counts.
package reaction

import "time"

// Tag is a reaction kind. A user holds at most one active tag per entity.
type Tag string

const (
	TagNone    Tag = ""
	TagLike    Tag = "like"
	TagDislike Tag = "dislike"
	TagWow     Tag = "wow"
)

// Valid reports whether t names a real tag (TagNone is not one).
func (t Tag) Valid() bool {
	return t == TagLike || t == TagDislike || t == TagWow
}

// Entity is an item the current user can react to.
type Entity struct {
	ID        string
	Counts    map[Tag]int
	MyTag     Tag
	UpdatedAt time.Time
}

// Clone deep-copies the entity so optimistic snapshots don't alias the
// counts map.
func (e Entity) Clone() Entity {
	counts := make(map[Tag]int, len(e.Counts))
	for tag, n := range e.Counts {
		counts[tag] = n
	}
	e.Counts = counts
	return e
}

// Apply returns the entity after the current user applies tag. Switching
// tags decrements the prior bucket and increments the new one; applying the
// already-active tag clears it.
func Apply(e Entity, tag Tag) Entity {
	next := e.Clone()
	if next.MyTag != TagNone {
		if next.Counts[next.MyTag] > 0 {
			next.Counts[next.MyTag]--
		}
		if next.MyTag == tag {
			next.MyTag = TagNone
			return next
		}
	}
	if tag != TagNone {
		next.Counts[tag]++
	}
	next.MyTag = tag
	return next
}

// Total is the sum of all tag buckets.
func (e Entity) Total() int {
	total := 0
	for _, n := range e.Counts {
		total += n
	}
	return total
}
