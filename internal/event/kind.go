package event

import (
	"strings"

	"github.com/juju/loggo/v2"
)

// Kind identifies the category of an asynchronous control-channel event.
// The numbering is part of the wire protocol's subscription model (each
// kind is a bit position in a Mask) and must not be reordered.
type Kind uint16

const (
	// KindNone is reserved; no event ever carries it.
	KindNone Kind = 0

	KindCircuitStatus      Kind = 1
	KindStreamStatus       Kind = 2
	KindORConnStatus       Kind = 3
	KindBandwidthUsed      Kind = 4
	KindCircuitStatusMinor Kind = 5
	KindNewDesc            Kind = 6
	KindDebugMsg           Kind = 7
	KindInfoMsg            Kind = 8
	KindNoticeMsg          Kind = 9
	KindWarnMsg            Kind = 10
	KindErrMsg             Kind = 11
	KindAddrMap            Kind = 12
	// 13 belonged to a retired event and stays unused.
	KindDescChanged    Kind = 14
	KindNS             Kind = 15
	KindStatusClient   Kind = 16
	KindStatusServer   Kind = 17
	KindStatusGeneral  Kind = 18
	KindGuard          Kind = 19
	KindStreamBW       Kind = 20
	KindClientsSeen    Kind = 21
	KindNewConsensus   Kind = 22
	KindBuildtimeout   Kind = 23
	KindGotSignal      Kind = 24
	KindConfChanged    Kind = 25
	KindConnBW         Kind = 26
	KindCellStats      Kind = 27
	// 28 unused.
	KindCircBW Kind = 29
	// 30, 31 unused.
	KindTransportLaunched Kind = 32
	KindHSDesc            Kind = 33
	KindHSDescContent     Kind = 34
	KindNetworkLiveness   Kind = 35

	KindMin Kind = KindCircuitStatus
	KindMax Kind = KindNetworkLiveness

	// KindCapacity is the width of a Mask in bits. If KindMax ever
	// reaches it, Mask needs a wider representation.
	KindCapacity Kind = 64
)

var kindNames = map[Kind]string{
	KindCircuitStatus:      "CIRC",
	KindCircuitStatusMinor: "CIRC_MINOR",
	KindStreamStatus:       "STREAM",
	KindORConnStatus:       "ORCONN",
	KindBandwidthUsed:      "BW",
	KindDebugMsg:           "DEBUG",
	KindInfoMsg:            "INFO",
	KindNoticeMsg:          "NOTICE",
	KindWarnMsg:            "WARN",
	KindErrMsg:             "ERR",
	KindNewDesc:            "NEWDESC",
	KindAddrMap:            "ADDRMAP",
	KindDescChanged:        "DESCCHANGED",
	KindNS:                 "NS",
	KindStatusGeneral:      "STATUS_GENERAL",
	KindStatusClient:       "STATUS_CLIENT",
	KindStatusServer:       "STATUS_SERVER",
	KindGuard:              "GUARD",
	KindStreamBW:           "STREAM_BW",
	KindClientsSeen:        "CLIENTS_SEEN",
	KindNewConsensus:       "NEWCONSENSUS",
	KindBuildtimeout:       "BUILDTIMEOUT_SET",
	KindGotSignal:          "SIGNAL",
	KindConfChanged:        "CONF_CHANGED",
	KindConnBW:             "CONN_BW",
	KindCellStats:          "CELL_STATS",
	KindCircBW:             "CIRC_BW",
	KindTransportLaunched:  "TRANSPORT_LAUNCHED",
	KindHSDesc:             "HS_DESC",
	KindHSDescContent:      "HS_DESC_CONTENT",
	KindNetworkLiveness:    "NETWORK_LIVENESS",
}

// kindOrder lists every known kind in table order, for introspection
// queries that enumerate names deterministically.
var kindOrder = []Kind{
	KindCircuitStatus, KindCircuitStatusMinor, KindStreamStatus,
	KindORConnStatus, KindBandwidthUsed, KindDebugMsg, KindInfoMsg,
	KindNoticeMsg, KindWarnMsg, KindErrMsg, KindNewDesc, KindAddrMap,
	KindDescChanged, KindNS, KindStatusGeneral, KindStatusClient,
	KindStatusServer, KindGuard, KindStreamBW, KindClientsSeen,
	KindNewConsensus, KindBuildtimeout, KindGotSignal, KindConfChanged,
	KindConnBW, KindCellStats, KindCircBW, KindTransportLaunched,
	KindHSDesc, KindHSDescContent, KindNetworkLiveness,
}

var kindFromName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// legacyNames are accepted in subscription requests for compatibility but
// contribute no mask bit; they produce a warning instead of an error.
var legacyNames = map[string]bool{
	"EXTENDED":         true,
	"AUTHDIR_NEWDESCS": true,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// KindByName resolves a textual event name, case-insensitively.
func KindByName(name string) (Kind, bool) {
	k, ok := kindFromName[strings.ToUpper(name)]
	return k, ok
}

// IsLegacyName reports whether name is an accepted-but-retired
// subscription argument.
func IsLegacyName(name string) bool {
	return legacyNames[strings.ToUpper(name)]
}

// KindNames returns every known event name in table order.
func KindNames() []string {
	names := make([]string, 0, len(kindOrder))
	for _, k := range kindOrder {
		names = append(names, kindNames[k])
	}
	return names
}

// Mask is a bitset of event kinds: bit i is set iff kind i is present.
type Mask uint64

// MaskOf builds a mask from the given kinds.
func MaskOf(kinds ...Kind) Mask {
	var m Mask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

// Contains reports whether kind k is in the mask.
func (m Mask) Contains(k Kind) bool {
	return m&(1<<k) != 0
}

// Intersects reports whether the two masks share any kind.
func (m Mask) Intersects(other Mask) bool {
	return m&other != 0
}

// perSecondMask covers the high-frequency kinds whose production is gated
// on a once-per-second accounting task.
var perSecondMask = MaskOf(
	KindBandwidthUsed,
	KindCellStats,
	KindCircBW,
	KindConnBW,
	KindStreamBW,
)

// KindToLevel returns the log level whose messages are surfaced as events
// of kind k, or false if k is not a log-message kind.
func KindToLevel(k Kind) (loggo.Level, bool) {
	switch k {
	case KindDebugMsg:
		return loggo.DEBUG, true
	case KindInfoMsg:
		return loggo.INFO, true
	case KindNoticeMsg:
		return loggo.INFO, true
	case KindWarnMsg:
		return loggo.WARNING, true
	case KindErrMsg:
		return loggo.ERROR, true
	}
	return loggo.UNSPECIFIED, false
}

// LevelToKind classifies a log level as an event kind. The mapping is
// fixed: INFO entries surface as NOTICE events, and the INFO kind is
// reserved for sources that can express the distinction.
func LevelToKind(level loggo.Level) Kind {
	switch {
	case level >= loggo.ERROR:
		return KindErrMsg
	case level == loggo.WARNING:
		return KindWarnMsg
	case level == loggo.INFO:
		return KindNoticeMsg
	default:
		return KindDebugMsg
	}
}
