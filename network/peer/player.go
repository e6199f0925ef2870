// Package peer identifies session participants.
package peer

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// ID is the stable transport identity of a participant.
type ID = uuid.UUID

// Player is a participant. Two players are the same participant when their IDs match;
// the display name may change during a session.
type Player struct {
	ID       ID     // Never the nil UUID for a connected peer
	Username string // Display name, not unique
}

// New returns a player with a fresh identity.
func New(username string) Player {
	return Player{ID: uuid.NewV4(), Username: username}
}

// ParseID parses the canonical text form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse peer id %q: %w", s, err)
	}
	return id, nil
}

// Equal reports whether p and o are the same participant.
func (p Player) Equal(o Player) bool {
	return uuid.Equal(p.ID, o.ID)
}

// IsZero reports whether p has no identity.
func (p Player) IsZero() bool {
	return uuid.Equal(p.ID, uuid.Nil)
}

// String formats p as "name(id)" for logs.
func (p Player) String() string {
	return p.Username + "(" + p.ID.String() + ")"
}
