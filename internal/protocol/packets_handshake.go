package protocol

// Handshake and keep-alive packets. These are accepted regardless of peer
// state (§4.D).

// Connect is the first packet a client sends. The protocol version is
// checked exactly; a mismatch is terminal (§7 ErrProtocolMismatch).
type Connect struct {
	ProtocolVersion uint16
	ConnectionToken string
}

func (p Connect) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint16(p.ProtocolVersion)
	w.WriteString(p.ConnectionToken)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeConnect(payload []byte) (Connect, error) {
	r := NewReader(payload)
	var p Connect
	var err error
	if p.ProtocolVersion, err = r.ReadUint16(); err != nil {
		return p, err
	}
	if p.ConnectionToken, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

// ConnectAck confirms authentication and hands the client its assigned
// player ID and tick timing.
type ConnectAck struct {
	PlayerID   uint32
	ServerTick uint64
	TickRate   uint16
}

func (p ConnectAck) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint32(p.PlayerID)
	w.WriteUint64(p.ServerTick)
	w.WriteUint16(p.TickRate)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeConnectAck(payload []byte) (ConnectAck, error) {
	r := NewReader(payload)
	var p ConnectAck
	var err error
	if p.PlayerID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	if p.ServerTick, err = r.ReadUint64(); err != nil {
		return p, err
	}
	if p.TickRate, err = r.ReadUint16(); err != nil {
		return p, err
	}
	return p, nil
}

// AuthResponse reports the outcome of token validation.
type AuthResponse struct {
	Success bool
	Error   string
}

func (p AuthResponse) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteBool(p.Success)
	w.WriteString(p.Error)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeAuthResponse(payload []byte) (AuthResponse, error) {
	r := NewReader(payload)
	var p AuthResponse
	var err error
	if p.Success, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.Error, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

type Ping struct {
	ClientTime int64
}

func (p Ping) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteInt64(p.ClientTime)
	return append([]byte(nil), w.Bytes()...)
}

func DecodePing(payload []byte) (Ping, error) {
	r := NewReader(payload)
	var p Ping
	var err error
	if p.ClientTime, err = r.ReadInt64(); err != nil {
		return p, err
	}
	return p, nil
}

type Pong struct {
	ClientTime int64
	ServerTime int64
}

func (p Pong) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteInt64(p.ClientTime)
	w.WriteInt64(p.ServerTime)
	return append([]byte(nil), w.Bytes()...)
}

func DecodePong(payload []byte) (Pong, error) {
	r := NewReader(payload)
	var p Pong
	var err error
	if p.ClientTime, err = r.ReadInt64(); err != nil {
		return p, err
	}
	if p.ServerTime, err = r.ReadInt64(); err != nil {
		return p, err
	}
	return p, nil
}
