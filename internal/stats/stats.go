// Package stats implements the per-connection accounting the proxy stream
// state machine touches on sent/received/timeout/error transitions
// (component C7 of spec.md), plus the four-byte stat-tag encoding spec.md
// §6 specifies for wire/log correlation.
package stats

import "sync/atomic"

// Tag is a four-ASCII-character identifier packed little-endian into a
// uint32, per spec.md §6: STAT_TAG('H','S','E','N') = 'N'<<24 | 'E'<<16 |
// 'S'<<8 | 'H'.
type Tag uint32

// MakeTag packs four ASCII bytes into a Tag the way the original
// STAT_TAG macro does.
func MakeTag(a, b, c, d byte) Tag {
	return Tag(uint32(d)<<24 | uint32(c)<<16 | uint32(b)<<8 | uint32(a))
}

// String renders the tag back to its four-character form.
func (t Tag) String() string {
	return string([]byte{byte(t), byte(t >> 8), byte(t >> 16), byte(t >> 24)})
}

// Canonical tags from spec.md §6.
var (
	TagHTTPSent             = MakeTag('H', 'S', 'E', 'N')
	TagHTTPTimeout          = MakeTag('H', 'T', 'I', 'O')
	TagHTTPConnectionFailed = MakeTag('H', 'C', 'F', 'A')
	TagHTTPReceived         = MakeTag('H', 'R', 'E', 'C')
)

// HTTPStats holds the HTTP-level proxied-request counters from spec.md §3.
type HTTPStats struct {
	Sent              uint64
	Timeout           uint64
	ConnectionFailed  uint64
	Received          uint64
}

// QUICStats holds the transport-level counters from spec.md §3. The proxy
// core does not produce these itself (QUIC transport internals are out of
// scope per spec.md §1) but the accumulator still carries the fields so a
// QUIC collaborator can report into the same structure HttpStats reports
// into, and so AddSample/Merge have a single terminal-statistics shape to
// fold.
type QUICStats struct {
	BytesSent          uint64
	BytesReceived      uint64
	PacketsSent        uint64
	PacketsReceived    uint64
	PacketsLost        uint64
	PacketsRetransmitted uint64
	MinRTTMicros       uint64
	SmoothedRTTMicros  uint64
	RetransmitCount    uint64
	RTOCount           uint64
	TLPCount           uint64
	ConnectionCount    uint64
}

// Connection is the terminal statistics snapshot of a single connection,
// the unit AddSample folds into an Accumulator.
type Connection struct {
	HTTP HTTPStats
	QUIC QUICStats
}

// Accumulator holds atomically-updated counters for a single connection (or,
// after Merge, for an aggregate of connections). All fields are accessed
// through atomic.Uint64 because a connection's stream goroutines share it
// per spec.md §5 ("shared resources... no locking is needed" for
// same-connection access; atomics make that guarantee cheap to also hold
// across the rare case of an aggregate reduced by a separate goroutine).
type Accumulator struct {
	httpSent             atomic.Uint64
	httpTimeout          atomic.Uint64
	httpConnectionFailed atomic.Uint64
	httpReceived         atomic.Uint64

	quicBytesSent           atomic.Uint64
	quicBytesReceived       atomic.Uint64
	quicPacketsSent         atomic.Uint64
	quicPacketsReceived     atomic.Uint64
	quicPacketsLost         atomic.Uint64
	quicPacketsRetransmitted atomic.Uint64
	quicMinRTTMicros        atomic.Uint64
	quicSmoothedRTTMicros   atomic.Uint64
	quicRetransmitCount     atomic.Uint64
	quicRTOCount            atomic.Uint64
	quicTLPCount            atomic.Uint64
	quicConnectionCount     atomic.Uint64
}

// New returns a zeroed Accumulator.
func New() *Accumulator { return &Accumulator{} }

// IncHTTPSent records one proxied request sent upstream (stat tag HSEN).
func (a *Accumulator) IncHTTPSent() { a.httpSent.Add(1) }

// IncHTTPTimeout records one deadline-expired backend fetch (stat tag HTIO).
func (a *Accumulator) IncHTTPTimeout() { a.httpTimeout.Add(1) }

// IncHTTPConnectionFailed records one backend-unreachable error (stat tag HCFA).
func (a *Accumulator) IncHTTPConnectionFailed() { a.httpConnectionFailed.Add(1) }

// IncHTTPReceived records one completed backend response (stat tag HREC).
func (a *Accumulator) IncHTTPReceived() { a.httpReceived.Add(1) }

// Snapshot returns the current counter values as a Connection value.
func (a *Accumulator) Snapshot() Connection {
	return Connection{
		HTTP: HTTPStats{
			Sent:             a.httpSent.Load(),
			Timeout:          a.httpTimeout.Load(),
			ConnectionFailed: a.httpConnectionFailed.Load(),
			Received:         a.httpReceived.Load(),
		},
		QUIC: QUICStats{
			BytesSent:            a.quicBytesSent.Load(),
			BytesReceived:        a.quicBytesReceived.Load(),
			PacketsSent:          a.quicPacketsSent.Load(),
			PacketsReceived:      a.quicPacketsReceived.Load(),
			PacketsLost:          a.quicPacketsLost.Load(),
			PacketsRetransmitted: a.quicPacketsRetransmitted.Load(),
			MinRTTMicros:         a.quicMinRTTMicros.Load(),
			SmoothedRTTMicros:    a.quicSmoothedRTTMicros.Load(),
			RetransmitCount:      a.quicRetransmitCount.Load(),
			RTOCount:             a.quicRTOCount.Load(),
			TLPCount:             a.quicTLPCount.Load(),
			ConnectionCount:      a.quicConnectionCount.Load(),
		},
	}
}

// Add folds c field-wise into the accumulator.
func (a *Accumulator) Add(c Connection) {
	a.httpSent.Add(c.HTTP.Sent)
	a.httpTimeout.Add(c.HTTP.Timeout)
	a.httpConnectionFailed.Add(c.HTTP.ConnectionFailed)
	a.httpReceived.Add(c.HTTP.Received)

	a.quicBytesSent.Add(c.QUIC.BytesSent)
	a.quicBytesReceived.Add(c.QUIC.BytesReceived)
	a.quicPacketsSent.Add(c.QUIC.PacketsSent)
	a.quicPacketsReceived.Add(c.QUIC.PacketsReceived)
	a.quicPacketsLost.Add(c.QUIC.PacketsLost)
	a.quicPacketsRetransmitted.Add(c.QUIC.PacketsRetransmitted)
	a.quicMinRTTMicros.Add(c.QUIC.MinRTTMicros)
	a.quicSmoothedRTTMicros.Add(c.QUIC.SmoothedRTTMicros)
	a.quicRetransmitCount.Add(c.QUIC.RetransmitCount)
	a.quicRTOCount.Add(c.QUIC.RTOCount)
	a.quicTLPCount.Add(c.QUIC.TLPCount)
	a.quicConnectionCount.Add(c.QUIC.ConnectionCount)
}

// sub64 subtracts b from a, saturating at zero rather than wrapping, since
// these are monitoring counters, not modular arithmetic.
func sub64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Sub subtracts c field-wise from the accumulator.
func (a *Accumulator) Sub(c Connection) {
	cur := a.Snapshot()
	a.httpSent.Store(sub64(cur.HTTP.Sent, c.HTTP.Sent))
	a.httpTimeout.Store(sub64(cur.HTTP.Timeout, c.HTTP.Timeout))
	a.httpConnectionFailed.Store(sub64(cur.HTTP.ConnectionFailed, c.HTTP.ConnectionFailed))
	a.httpReceived.Store(sub64(cur.HTTP.Received, c.HTTP.Received))

	a.quicBytesSent.Store(sub64(cur.QUIC.BytesSent, c.QUIC.BytesSent))
	a.quicBytesReceived.Store(sub64(cur.QUIC.BytesReceived, c.QUIC.BytesReceived))
	a.quicPacketsSent.Store(sub64(cur.QUIC.PacketsSent, c.QUIC.PacketsSent))
	a.quicPacketsReceived.Store(sub64(cur.QUIC.PacketsReceived, c.QUIC.PacketsReceived))
	a.quicPacketsLost.Store(sub64(cur.QUIC.PacketsLost, c.QUIC.PacketsLost))
	a.quicPacketsRetransmitted.Store(sub64(cur.QUIC.PacketsRetransmitted, c.QUIC.PacketsRetransmitted))
	a.quicMinRTTMicros.Store(sub64(cur.QUIC.MinRTTMicros, c.QUIC.MinRTTMicros))
	a.quicSmoothedRTTMicros.Store(sub64(cur.QUIC.SmoothedRTTMicros, c.QUIC.SmoothedRTTMicros))
	a.quicRetransmitCount.Store(sub64(cur.QUIC.RetransmitCount, c.QUIC.RetransmitCount))
	a.quicRTOCount.Store(sub64(cur.QUIC.RTOCount, c.QUIC.RTOCount))
	a.quicTLPCount.Store(sub64(cur.QUIC.TLPCount, c.QUIC.TLPCount))
	a.quicConnectionCount.Store(sub64(cur.QUIC.ConnectionCount, c.QUIC.ConnectionCount))
}

// Reset zeroes every counter.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// AddSample folds a connection's terminal statistics into the aggregate and
// increments connection_count by one, per spec.md §4.6.
func (a *Accumulator) AddSample(c Connection) {
	a.Add(c)
	a.quicConnectionCount.Add(1)
}

// Merge folds another accumulator's current snapshot into this one, without
// touching connection_count beyond what the snapshot already carries.
func (a *Accumulator) Merge(other *Accumulator) {
	a.Add(other.Snapshot())
}
