package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualityUsesIdentityOnly(t *testing.T) {
	a := New("alice")
	renamed := Player{ID: a.ID, Username: "alice on ipad"}
	b := New("alice")

	assert.True(t, a.Equal(renamed))
	assert.False(t, a.Equal(b))

	set := map[ID]Player{a.ID: a}
	set[renamed.ID] = renamed
	assert.Len(t, set, 1)
}

func TestParseID(t *testing.T) {
	p := New("bob")
	id, err := ParseID(p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, Player{Username: "ghost"}.IsZero())
	assert.False(t, New("carol").IsZero())
}
