// Package action defines the closed set of typed game actions exchanged between peers and their
// bit-level wire encoding.
//
// Every variant has a coding key fixed by its position in the key enumeration below. The key is
// written first, followed by the variant's fields in declaration order; decoding mirrors it exactly.
// Keys are part of the wire contract and must never be reordered.
//
// Each level of the hierarchy is a sealed interface: variants implement an unexported key method and
// an unexported encoder, so a new variant cannot be sent without a key and an encoder, and decoding
// an unassigned key fails with ErrUnknownAction.
package action

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/slingshot/bitstream"
)

// ErrUnknownAction is returned when a decoded key has no matching variant.
var ErrUnknownAction = errors.New("action: unknown coding key")

// Action is a top-level message: a game action, a board setup step, or a music sync.
type Action interface {
	actionKey() actionKey
	encodeBody(w *bitstream.Writable)
}

type actionKey uint8

const (
	keyGameAction actionKey = iota
	keyBoardSetup
	keyStartGameMusic
	actionKeyCount
)

// CaseCount sizes the top-level discriminator.
func (actionKey) CaseCount() uint32 { return uint32(actionKeyCount) }

// Game wraps a GameAction.
type Game struct {
	Action GameAction // Never nil on the wire
}

// BoardSetup wraps a BoardSetupAction.
type BoardSetup struct {
	Action BoardSetupAction
}

// StartGameMusic carries a music synchronization message.
type StartGameMusic struct {
	Time StartGameMusicTime // Start flag and reference timestamps
}

func (Game) actionKey() actionKey           { return keyGameAction }
func (BoardSetup) actionKey() actionKey     { return keyBoardSetup }
func (StartGameMusic) actionKey() actionKey { return keyStartGameMusic }

func (a Game) encodeBody(w *bitstream.Writable) {
	if a.Action == nil {
		w.Fail(fmt.Errorf("%w: game action is nil", bitstream.ErrEncoding))
		return
	}
	encodeGameAction(w, a.Action)
}

func (a BoardSetup) encodeBody(w *bitstream.Writable) {
	if a.Action == nil {
		w.Fail(fmt.Errorf("%w: board setup action is nil", bitstream.ErrEncoding))
		return
	}
	encodeBoardSetup(w, a.Action)
}

func (a StartGameMusic) encodeBody(w *bitstream.Writable) {
	a.Time.encode(w)
}

// Encode writes a into a fresh stream and returns the packed buffer.
// Nothing is returned when any field exceeds its declared bound.
func Encode(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil action", bitstream.ErrEncoding)
	}
	w := bitstream.NewWritable()
	bitstream.AppendEnum(w, a.actionKey())
	a.encodeBody(w)
	return w.PackData()
}

// Decode parses a packed buffer produced by Encode.
func Decode(data []byte) (Action, error) {
	r, err := bitstream.NewReadable(data)
	if err != nil {
		return nil, err
	}
	d := &decoder{r: r}
	a := decodeAction(d)
	if d.err != nil {
		return nil, d.err
	}
	return a, nil
}

func decodeAction(d *decoder) Action {
	raw := d.uint32(bitstream.EnumBits(uint32(actionKeyCount)))
	if d.err != nil {
		return nil
	}
	switch actionKey(raw) {
	case keyGameAction:
		return Game{Action: decodeGameAction(d)}
	case keyBoardSetup:
		return BoardSetup{Action: decodeBoardSetup(d)}
	case keyStartGameMusic:
		return StartGameMusic{Time: decodeStartGameMusicTime(d)}
	}
	d.fail(fmt.Errorf("%w: action %d", ErrUnknownAction, raw))
	return nil
}

// IsPhysics reports whether a carries a physics sync payload.
func IsPhysics(a Action) bool {
	g, ok := a.(Game)
	if !ok {
		return false
	}
	_, ok = g.Action.(Physics)
	return ok
}

// Describe returns a short label for logs. Physics payloads are not expanded.
func Describe(a Action) string {
	switch v := a.(type) {
	case Game:
		return "gameAction:" + gameActionName(v.Action)
	case BoardSetup:
		switch v.Action.(type) {
		case RequestBoardLocation:
			return "boardSetup:requestBoardLocation"
		case BoardLocation:
			return "boardSetup:boardLocation"
		}
		return "boardSetup"
	case StartGameMusic:
		return fmt.Sprintf("startGameMusic:startNow=%t,timestamps=%d", v.Time.StartNow, len(v.Time.Timestamps))
	}
	return fmt.Sprintf("%T", a)
}
