package action

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/linchenxuan/slingshot/bitstream"
)

// BoardSetupAction negotiates where the shared game board sits.
type BoardSetupAction interface {
	boardSetupKey() boardSetupKey
	encode(w *bitstream.Writable)
}

type boardSetupKey uint8

const (
	keyRequestBoardLocation boardSetupKey = iota
	keyBoardLocation
	boardSetupKeyCount
)

// CaseCount sizes the board setup discriminator.
func (boardSetupKey) CaseCount() uint32 { return uint32(boardSetupKeyCount) }

// RequestBoardLocation asks the host to share the board location.
type RequestBoardLocation struct{}

// BoardLocation answers with the board location.
type BoardLocation struct {
	Location GameBoardLocation // WorldMapData or ManualLocation
}

func (RequestBoardLocation) boardSetupKey() boardSetupKey { return keyRequestBoardLocation }
func (BoardLocation) boardSetupKey() boardSetupKey        { return keyBoardLocation }

func (RequestBoardLocation) encode(*bitstream.Writable) {}

func (a BoardLocation) encode(w *bitstream.Writable) {
	if a.Location == nil {
		w.Fail(fmt.Errorf("%w: board location is nil", bitstream.ErrEncoding))
		return
	}
	bitstream.AppendEnum(w, a.Location.locationKey())
	a.Location.encode(w)
}

// GameBoardLocation is either a shared world map or a manually placed board.
type GameBoardLocation interface {
	locationKey() locationKey
	encode(w *bitstream.Writable)
}

type locationKey uint8

const (
	keyWorldMapData locationKey = iota
	keyManual
	locationKeyCount
)

func (locationKey) CaseCount() uint32 { return uint32(locationKeyCount) }

// WorldMapData carries a serialized world map, normally produced by CompressWorldMap.
type WorldMapData struct {
	Data []byte // Opaque to the session; snappy-compressed by CompressWorldMap
}

// ManualLocation means each player places the board by hand.
type ManualLocation struct{}

func (WorldMapData) locationKey() locationKey   { return keyWorldMapData }
func (ManualLocation) locationKey() locationKey { return keyManual }

func (l WorldMapData) encode(w *bitstream.Writable) { w.AppendData(l.Data) }
func (ManualLocation) encode(*bitstream.Writable)   {}

func encodeBoardSetup(w *bitstream.Writable, a BoardSetupAction) {
	bitstream.AppendEnum(w, a.boardSetupKey())
	a.encode(w)
}

func decodeBoardSetup(d *decoder) BoardSetupAction {
	key := readEnum[boardSetupKey](d)
	if d.err != nil {
		return nil
	}
	switch key {
	case keyRequestBoardLocation:
		return RequestBoardLocation{}
	case keyBoardLocation:
		return BoardLocation{Location: decodeLocation(d)}
	}
	d.fail(fmt.Errorf("%w: board setup %d", ErrUnknownAction, key))
	return nil
}

func decodeLocation(d *decoder) GameBoardLocation {
	key := readEnum[locationKey](d)
	if d.err != nil {
		return nil
	}
	switch key {
	case keyWorldMapData:
		return WorldMapData{Data: d.data()}
	case keyManual:
		return ManualLocation{}
	}
	d.fail(fmt.Errorf("%w: board location %d", ErrUnknownAction, key))
	return nil
}

// CompressWorldMap compresses a serialized world map for a WorldMapData payload.
// World maps are often larger than the inline threshold and travel as resources.
func CompressWorldMap(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

// DecompressWorldMap reverses CompressWorldMap.
func DecompressWorldMap(data []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress world map: %w", err)
	}
	return raw, nil
}
