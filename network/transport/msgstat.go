package transport

import (
	"sync"

	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/network/frame"
)

type dimKey struct {
	typ     frame.MessageType
	network string
}

// Dimensions are reused per (type, network) so the hot path does not allocate maps.
var (
	_frameDims   sync.Map // dimKey -> metrics.Dimension
	_networkDims sync.Map // string -> metrics.Dimension
	_typeDims    sync.Map // frame.MessageType -> metrics.Dimension
)

func frameDim(typ frame.MessageType, network string) metrics.Dimension {
	k := dimKey{typ, network}
	if v, ok := _frameDims.Load(k); ok {
		return v.(metrics.Dimension)
	}
	d := metrics.Dimension{metrics.DimMsgType: typ.String(), metrics.DimTransport: network}
	v, _ := _frameDims.LoadOrStore(k, d)
	return v.(metrics.Dimension)
}

func networkDim(network string) metrics.Dimension {
	if v, ok := _networkDims.Load(network); ok {
		return v.(metrics.Dimension)
	}
	v, _ := _networkDims.LoadOrStore(network, metrics.Dimension{metrics.DimTransport: network})
	return v.(metrics.Dimension)
}

func typeDim(typ frame.MessageType) metrics.Dimension {
	if v, ok := _typeDims.Load(typ); ok {
		return v.(metrics.Dimension)
	}
	v, _ := _typeDims.LoadOrStore(typ, metrics.Dimension{metrics.DimMsgType: typ.String()})
	return v.(metrics.Dimension)
}

// StatSendFrame records one written frame. size includes the header.
func StatSendFrame(typ frame.MessageType, network string, size int) {
	metrics.IncrCounterWithDimGroup(metrics.NameFrameSendTotal, metrics.GroupSlingshot, 1, frameDim(typ, network))
	metrics.IncrCounterWithDimGroup(metrics.NameFrameSendBytesTotal, metrics.GroupSlingshot, metrics.Value(size), networkDim(network))
}

// StatRecvFrame records one parsed frame. payloadSize excludes the header.
func StatRecvFrame(typ frame.MessageType, network string, payloadSize int) {
	metrics.IncrCounterWithDimGroup(metrics.NameFrameRecvTotal, metrics.GroupSlingshot, 1, frameDim(typ, network))
	metrics.IncrCounterWithDimGroup(metrics.NameFrameRecvBytesTotal, metrics.GroupSlingshot,
		metrics.Value(payloadSize+frame.HeaderSize), networkDim(network))
	metrics.UpdateMaxGaugeWithDimGroup(metrics.NameFramePayloadMaxKB, metrics.GroupSlingshot,
		metrics.Value(float64(payloadSize)/metrics.KB), typeDim(typ))
}
