// Package metrics collects counters, gauges and stopwatches and forwards every update to the
// registered reporters.
package metrics

// Policy defines how values of one metric are combined over a reporting window.
type Policy int

const (
	PolicyNone      Policy = iota // PolicyNone leaves aggregation to the reporter.
	PolicySet                     // PolicySet keeps the last value.
	PolicySum                     // PolicySum adds values up.
	PolicyAvg                     // PolicyAvg averages values.
	PolicyMax                     // PolicyMax keeps the largest value.
	PolicyMin                     // PolicyMin keeps the smallest value.
	PolicyStopwatch               // PolicyStopwatch averages durations in milliseconds.
)

// String returns the lower-case policy name, or "none".
func (p Policy) String() string {
	switch p {
	case PolicySet:
		return "set"
	case PolicySum:
		return "sum"
	case PolicyAvg:
		return "avg"
	case PolicyMax:
		return "max"
	case PolicyMin:
		return "min"
	case PolicyStopwatch:
		return "stopwatch"
	}
	return "none"
}

// Value is a metric value.
type Value float64

// Dimension labels a metric value.
type Dimension map[string]string

const (
	// KB is a kilobyte.
	KB = 1024.0
	// MB is a megabyte.
	MB = 1024.0 * 1024.0
)

const (
	// GroupSlingshot groups every metric emitted by this module.
	GroupSlingshot = "slingshot"
)

// Metric names. The comment lists the dimensions each one carries.
const (
	// NamePoolCreateTotal counts objects a pool had to allocate. dimension:poolname
	NamePoolCreateTotal = "pool_create_total"

	// NameFrameSendTotal counts frames written. dimension:msgtype,transport
	NameFrameSendTotal = "frame_send_total"
	// NameFrameRecvTotal counts frames parsed. dimension:msgtype,transport
	NameFrameRecvTotal = "frame_recv_total"
	// NameFrameSendBytesTotal counts bytes written including headers. dimension:transport
	NameFrameSendBytesTotal = "frame_send_bytes_total"
	// NameFrameRecvBytesTotal counts bytes read including headers. dimension:transport
	NameFrameRecvBytesTotal = "frame_recv_bytes_total"
	// NameFramePayloadMaxKB is the largest frame payload seen. dimension:msgtype
	NameFramePayloadMaxKB = "frame_payload_max_KB"
	// NameInvalidFrameTotal counts frames with an unknown type tag.
	NameInvalidFrameTotal = "frame_invalid_total"

	// NameActionDecodeFailTotal counts inbound actions dropped because they did not decode.
	NameActionDecodeFailTotal = "action_decode_fail_total"
	// NameActionEncodeFailTotal counts sends aborted by an encoding error.
	NameActionEncodeFailTotal = "action_encode_fail_total"
	// NameActionRateLimitedTotal counts inbound actions dropped by the rate limiter.
	NameActionRateLimitedTotal = "action_rate_limited_total"
	// NameActionDispatchTotal counts decoded actions handed to the application. dimension:action
	NameActionDispatchTotal = "action_dispatch_total"
	// NameEventDropTotal counts application events dropped because the event channel was full.
	NameEventDropTotal = "event_drop_total"

	// NameSendQueueFullTotal counts frames dropped because a connection send queue was full.
	NameSendQueueFullTotal = "send_queue_full_total"

	// NameResourceSendTotal counts resource transfers sent. dimension:result
	NameResourceSendTotal = "resource_send_total"
	// NameResourceRecvTotal counts resource transfers received. dimension:result
	NameResourceRecvTotal = "resource_recv_total"
	// NameResourceSizeAvgKB is the average resource size.
	NameResourceSizeAvgKB = "resource_size_avg_KB"

	// NameHandshakeFailTotal counts failed handshakes. dimension:reason
	NameHandshakeFailTotal = "handshake_fail_total"
	// NameHandshakeDuration times successful handshakes.
	NameHandshakeDuration = "handshake_duration"
	// NameConnStateTotal counts connection state transitions. dimension:state
	NameConnStateTotal = "conn_state_total"
	// NameListenerRestartTotal counts listener restarts after a recoverable error. dimension:transport
	NameListenerRestartTotal = "listener_restart_total"

	// NameConnectedPeers is the number of connected peers in a session.
	NameConnectedPeers = "connected_peers"
	// NameAdmissionRejectTotal counts connections refused because the session was full.
	NameAdmissionRejectTotal = "admission_reject_total"
	// NameAdvertisingActive is 1 while a session is discoverable.
	NameAdvertisingActive = "advertising_active"

	// NameBrowseRestartTotal counts browse restarts after a recoverable directory error.
	NameBrowseRestartTotal = "browse_restart_total"
	// NameBrowseGames is the number of games currently visible.
	NameBrowseGames = "browse_games"
)

// Dimension keys.
const (
	DimPoolName  = "poolname"  // Name of a utils/pool pool
	DimMsgType   = "msgtype"   // Frame message type, e.g. "action"
	DimTransport = "transport" // Network plugin name, "tcp" or "kcp"
	DimResult    = "result"    // Outcome of a transfer or handshake
	DimReason    = "reason"    // Why a handshake failed
	DimState     = "state"     // Connection state after a transition
	DimAction    = "action"    // Action description from action.Describe
)
