package sim

import "bytes"

// NodeID identifies a simulated node. Node ids are global across partitions.
type NodeID int32

// BroadcastNode addresses every partition except the sender; the message is
// delivered to the receiving partition's handler for its protocol.
const BroadcastNode NodeID = -1

// PartitionID identifies a partition.
type PartitionID int32

// Layer is the protocol-stack layer a message is delivered to.
type Layer uint8

const (
	LayerPhy Layer = iota
	LayerMac
	LayerNetwork
	LayerTransport
	LayerApp
	LayerMobility
	LayerPartition
)

var layerNames = map[Layer]string{
	LayerPhy:       "phy",
	LayerMac:       "mac",
	LayerNetwork:   "network",
	LayerTransport: "transport",
	LayerApp:       "app",
	LayerMobility:  "mobility",
	LayerPartition: "partition",
}

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return "layer?"
}

// ProtocolID selects a protocol within a layer.
type ProtocolID uint16

// EventKind is a protocol-defined event tag.
type EventKind int32

// InfoType tags a side-channel info entry.
type InfoType uint16

// AnyChannel is the Channel value of messages not bound to a radio channel.
const AnyChannel int16 = -1

// MaxHeaderDepth bounds the header trace stack of a message.
const MaxHeaderDepth = 16

// defaultHeadroom is reserved in front of a packet so that the common
// header pushes do not reallocate.
const defaultHeadroom = 256

type lifecycle uint8

const (
	flagQueued lifecycle = 1 << iota
	flagReleased
	flagDestroyed
	flagCancelled
	flagRemote
)

type headerRecord struct {
	size int
	tag  ProtocolID
}

type infoEntry struct {
	tag   InfoType
	value []byte
}

// Message is one scheduled occurrence: a timer, a packet in flight or a
// control signal. It is allocated by an Allocator and owned either by the
// EventQueue it was sent to or by the handler it was dispatched to.
type Message struct {
	// Routing
	Node     NodeID
	Layer    Layer
	Protocol ProtocolID
	Instance int32
	Kind     EventKind
	Channel  int16

	// Temporal; set by the kernel
	time   Time
	order  uint64
	source PartitionID
	eot    Time

	// Packet window is buf[off:]
	buf         []byte
	off         int
	hasPacket   bool
	virtualSize int
	headers     [MaxHeaderDepth]headerRecord
	depth       int

	infos []infoEntry

	flags  lifecycle
	handle Handle
	next   Handle
}

// Time returns the scheduled delivery time.
func (m *Message) Time() Time { return m.time }

// Order returns the natural-order tiebreaker assigned when the message was enqueued.
func (m *Message) Order() uint64 { return m.order }

// Source returns the partition that sent the message.
func (m *Message) Source() PartitionID { return m.source }

// EOT returns the earliest-output-time escort value the sending partition
// attached to a cross-partition message.
func (m *Message) EOT() Time { return m.eot }

// Handle returns the message's slot in its allocator.
func (m *Message) Handle() Handle { return m.handle }

// Cancelled reports whether the message was cancelled while queued.
func (m *Message) Cancelled() bool { return m.flags&flagCancelled != 0 }

// Remote reports whether the message crossed a partition boundary.
func (m *Message) Remote() bool { return m.flags&flagRemote != 0 }

func (m *Message) released() bool { return m.flags&(flagReleased|flagDestroyed) != 0 }

func (m *Message) checkLive(op string) {
	if m == nil {
		violate(ViolationInvalidArgument, "%s: nil message", op)
	}
	if m.flags&flagDestroyed != 0 {
		violate(ViolationUseAfterFree, "%s: message %d was destroyed", op, m.handle)
	}
	if m.flags&flagReleased != 0 {
		violate(ViolationUseAfterFree, "%s: message %d was released", op, m.handle)
	}
}

// before is the (time, natural-order) total order.
func (m *Message) before(o *Message) bool {
	if m.time != o.time {
		return m.time < o.time
	}
	return m.order < o.order
}

// === Packet ===

// AllocPacket attaches a zeroed packet of size bytes, replacing any existing one.
func (m *Message) AllocPacket(size int) []byte {
	m.checkLive("AllocPacket")
	if size < 0 {
		violate(ViolationInvalidArgument, "AllocPacket: negative size %d", size)
	}
	m.buf = make([]byte, defaultHeadroom+size)
	m.off = defaultHeadroom
	m.hasPacket = true
	m.depth = 0
	return m.buf[m.off:]
}

// HasPacket reports whether a packet is attached.
func (m *Message) HasPacket() bool { return m.hasPacket }

// Packet returns the current logical packet, outermost header first.
func (m *Message) Packet() []byte {
	if !m.hasPacket {
		return nil
	}
	return m.buf[m.off:]
}

// PacketSize is the physical packet size plus the virtual payload.
func (m *Message) PacketSize() int {
	return len(m.buf) - m.off + m.virtualSize
}

// VirtualSize returns the size of the virtual (not materialized) payload.
func (m *Message) VirtualSize() int { return m.virtualSize }

// AddVirtualPayload grows the accounted packet size without allocating bytes.
func (m *Message) AddVirtualPayload(size int) {
	m.checkLive("AddVirtualPayload")
	if size < 0 {
		violate(ViolationInvalidArgument, "AddVirtualPayload: negative size %d", size)
	}
	m.virtualSize += size
}

// RemoveVirtualPayload shrinks the virtual payload.
func (m *Message) RemoveVirtualPayload(size int) {
	m.checkLive("RemoveVirtualPayload")
	if size < 0 || size > m.virtualSize {
		violate(ViolationInvalidArgument, "RemoveVirtualPayload: size %d with %d virtual bytes", size, m.virtualSize)
	}
	m.virtualSize -= size
}

// AddHeader prepends a zeroed header of size bytes on behalf of protocol tag
// and returns it for the caller to fill in.
func (m *Message) AddHeader(size int, tag ProtocolID) []byte {
	m.checkLive("AddHeader")
	if !m.hasPacket {
		violate(ViolationInvalidArgument, "AddHeader: message %d has no packet", m.handle)
	}
	if size < 0 {
		violate(ViolationInvalidArgument, "AddHeader: negative size %d", size)
	}
	if m.depth == MaxHeaderDepth {
		violate(ViolationHeaderDepth, "AddHeader: header stack full (%d) on message %d", MaxHeaderDepth, m.handle)
	}
	if m.off < size {
		grown := make([]byte, len(m.buf)+defaultHeadroom+size)
		copy(grown[defaultHeadroom+size:], m.buf)
		m.off += defaultHeadroom + size
		m.buf = grown
	}
	m.off -= size
	hdr := m.buf[m.off : m.off+size]
	clear(hdr)
	m.headers[m.depth] = headerRecord{size: size, tag: tag}
	m.depth++
	return hdr
}

// RemoveHeader strips the outermost header, which must have been added with
// the same size and tag.
func (m *Message) RemoveHeader(size int, tag ProtocolID) {
	m.checkLive("RemoveHeader")
	if m.depth == 0 {
		violate(ViolationHeaderMismatch, "RemoveHeader: no header on message %d", m.handle)
	}
	top := m.headers[m.depth-1]
	if top.size != size || top.tag != tag {
		violate(ViolationHeaderMismatch, "RemoveHeader: outermost header is %d bytes of protocol %d, got %d bytes of protocol %d",
			top.size, top.tag, size, tag)
	}
	m.depth--
	m.headers[m.depth] = headerRecord{}
	m.off += size
}

// HeaderDepth returns the number of headers currently pushed.
func (m *Message) HeaderDepth() int { return m.depth }

// HeaderTags returns the protocols of the pushed headers, innermost first.
func (m *Message) HeaderTags() []ProtocolID {
	tags := make([]ProtocolID, m.depth)
	for i := 0; i < m.depth; i++ {
		tags[i] = m.headers[i].tag
	}
	return tags
}

// === Info ===

// AddInfo attaches a zeroed side-channel buffer under tag, replacing the
// first existing entry with that tag.
func (m *Message) AddInfo(tag InfoType, size int) []byte {
	m.checkLive("AddInfo")
	value := make([]byte, size)
	for i := range m.infos {
		if m.infos[i].tag == tag {
			m.infos[i].value = value
			return value
		}
	}
	m.infos = append(m.infos, infoEntry{tag: tag, value: value})
	return value
}

// AppendInfo attaches another entry under tag even if one already exists.
func (m *Message) AppendInfo(tag InfoType, size int) []byte {
	m.checkLive("AppendInfo")
	value := make([]byte, size)
	m.infos = append(m.infos, infoEntry{tag: tag, value: value})
	return value
}

// Info returns the first entry under tag, or nil.
func (m *Message) Info(tag InfoType) []byte {
	for _, e := range m.infos {
		if e.tag == tag {
			return e.value
		}
	}
	return nil
}

// Infos returns every entry under tag in insertion order.
func (m *Message) Infos(tag InfoType) [][]byte {
	var out [][]byte
	for _, e := range m.infos {
		if e.tag == tag {
			out = append(out, e.value)
		}
	}
	return out
}

// RemoveInfo drops every entry under tag.
func (m *Message) RemoveInfo(tag InfoType) {
	m.checkLive("RemoveInfo")
	kept := m.infos[:0]
	for _, e := range m.infos {
		if e.tag != tag {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.infos); i++ {
		m.infos[i] = infoEntry{}
	}
	m.infos = kept
}

// InfoCount returns the number of info entries of any tag.
func (m *Message) InfoCount() int { return len(m.infos) }

// copyFrom deep-copies the routing, packet and info state of src.
// Temporal and lifecycle state are left to the caller.
func (m *Message) copyFrom(src *Message) {
	m.Node = src.Node
	m.Layer = src.Layer
	m.Protocol = src.Protocol
	m.Instance = src.Instance
	m.Kind = src.Kind
	m.Channel = src.Channel
	if src.hasPacket {
		m.buf = bytes.Clone(src.buf)
		m.off = src.off
		m.hasPacket = true
	}
	m.virtualSize = src.virtualSize
	m.headers = src.headers
	m.depth = src.depth
	if len(src.infos) > 0 {
		m.infos = make([]infoEntry, len(src.infos))
		for i, e := range src.infos {
			m.infos[i] = infoEntry{tag: e.tag, value: bytes.Clone(e.value)}
		}
	}
}
