package transport

import (
	"fmt"

	"github.com/towerwars/zoneserver/internal/protocol"
)

// envelopeFlag bits select how a datagram's sequence number is interpreted.
type envelopeFlag uint8

const (
	flagReliable  envelopeFlag = 1 << 0
	flagAck       envelopeFlag = 1 << 1
	flagKeepalive envelopeFlag = 1 << 2
)

// envelope is the transport-level header prepended to every UDP datagram,
// wrapping an already-encoded protocol.Frame (or, for Ack/Keepalive
// datagrams, nothing at all). It exists one layer below the packet codec
// in internal/protocol and never inspects the frame it carries.
type envelope struct {
	flags   envelopeFlag
	seq     uint32
	payload []byte
}

func (e envelope) isReliable() bool  { return e.flags&flagReliable != 0 }
func (e envelope) isAck() bool       { return e.flags&flagAck != 0 }
func (e envelope) isKeepalive() bool { return e.flags&flagKeepalive != 0 }

func encodeEnvelope(e envelope) []byte {
	w := protocol.GetWriter()
	defer w.Put()
	w.WriteUint8(uint8(e.flags))
	w.WriteUint32(e.seq)
	w.WriteBytes(e.payload)
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out
}

func decodeEnvelope(data []byte) (envelope, error) {
	r := protocol.NewReader(data)
	flags, err := r.ReadUint8()
	if err != nil {
		return envelope{}, fmt.Errorf("transport: decoding envelope flags: %w", err)
	}
	seq, err := r.ReadUint32()
	if err != nil {
		return envelope{}, fmt.Errorf("transport: decoding envelope seq: %w", err)
	}
	return envelope{flags: envelopeFlag(flags), seq: seq, payload: r.RestBytes()}, nil
}
