package protocol

import "github.com/google/uuid"

// In-game packets broadcast or sent by the server to clients.

type MatchStart struct {
	MatchID  uuid.UUID
	TickRate uint16
}

func (p MatchStart) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUUID(p.MatchID)
	w.WriteUint16(p.TickRate)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeMatchStart(payload []byte) (MatchStart, error) {
	r := NewReader(payload)
	var p MatchStart
	var err error
	if p.MatchID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.TickRate, err = r.ReadUint16(); err != nil {
		return p, err
	}
	return p, nil
}

// MatchResult enumerates the terminal outcome of a session for MatchEnd.
type MatchResult uint8

const (
	MatchResultVictory MatchResult = iota
	MatchResultDefeat
	MatchResultServerShutdown
)

type MatchEnd struct {
	Result          MatchResult
	WavesCompleted  int32
	DurationSeconds float64
}

func (p MatchEnd) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint8(uint8(p.Result))
	w.WriteInt32(p.WavesCompleted)
	w.WriteFloat64(p.DurationSeconds)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeMatchEnd(payload []byte) (MatchEnd, error) {
	r := NewReader(payload)
	var p MatchEnd
	var err error
	var res uint8
	if res, err = r.ReadUint8(); err != nil {
		return p, err
	}
	p.Result = MatchResult(res)
	if p.WavesCompleted, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.DurationSeconds, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	return p, nil
}

type WaveStart struct {
	WaveNumber int32
	UnitCount  int32
}

func (p WaveStart) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteInt32(p.WaveNumber)
	w.WriteInt32(p.UnitCount)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeWaveStart(payload []byte) (WaveStart, error) {
	r := NewReader(payload)
	var p WaveStart
	var err error
	if p.WaveNumber, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.UnitCount, err = r.ReadInt32(); err != nil {
		return p, err
	}
	return p, nil
}

type WaveEnd struct {
	WaveNumber int32
	Success    bool
	BonusGold  int32
}

func (p WaveEnd) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteInt32(p.WaveNumber)
	w.WriteBool(p.Success)
	w.WriteInt32(p.BonusGold)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeWaveEnd(payload []byte) (WaveEnd, error) {
	r := NewReader(payload)
	var p WaveEnd
	var err error
	if p.WaveNumber, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.Success, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.BonusGold, err = r.ReadInt32(); err != nil {
		return p, err
	}
	return p, nil
}

// EntityKind discriminates the Entity union carried by EntitySpawn,
// EntityDestroy and StateSnapshot.
type EntityKind uint8

const (
	EntityTower EntityKind = iota
	EntityUnit
	EntityItemDrop
)

type EntitySpawn struct {
	Tick          uint64
	EntityID      uint32
	Kind          EntityKind
	X             float64
	Y             float64
	HP            int32
	MaxHP         int32
	OwnerPlayerID uint32
	SubType       string // tower_type / unit_type / item_type
}

func (p EntitySpawn) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	encodeEntitySpawn(w, p)
	return append([]byte(nil), w.Bytes()...)
}

func encodeEntitySpawn(w *Writer, p EntitySpawn) {
	w.WriteUint64(p.Tick)
	w.WriteUint32(p.EntityID)
	w.WriteUint8(uint8(p.Kind))
	w.WriteFloat64(p.X)
	w.WriteFloat64(p.Y)
	w.WriteInt32(p.HP)
	w.WriteInt32(p.MaxHP)
	w.WriteUint32(p.OwnerPlayerID)
	w.WriteString(p.SubType)
}

func decodeEntitySpawn(r *Reader) (EntitySpawn, error) {
	var p EntitySpawn
	var err error
	if p.Tick, err = r.ReadUint64(); err != nil {
		return p, err
	}
	if p.EntityID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	var kind uint8
	if kind, err = r.ReadUint8(); err != nil {
		return p, err
	}
	p.Kind = EntityKind(kind)
	if p.X, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.Y, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.HP, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.MaxHP, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.OwnerPlayerID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	if p.SubType, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

func DecodeEntitySpawn(payload []byte) (EntitySpawn, error) {
	return decodeEntitySpawn(NewReader(payload))
}

// DestroyReason explains why an entity left the session.
type DestroyReason uint8

const (
	DestroyReasonKilled DestroyReason = iota
	DestroyReasonReachedEnd
	DestroyReasonSold
	DestroyReasonCollected
	DestroyReasonExpired
)

type EntityDestroy struct {
	Tick     uint64
	EntityID uint32
	Reason   DestroyReason
}

func (p EntityDestroy) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint64(p.Tick)
	w.WriteUint32(p.EntityID)
	w.WriteUint8(uint8(p.Reason))
	return append([]byte(nil), w.Bytes()...)
}

func DecodeEntityDestroy(payload []byte) (EntityDestroy, error) {
	r := NewReader(payload)
	var p EntityDestroy
	var err error
	if p.Tick, err = r.ReadUint64(); err != nil {
		return p, err
	}
	if p.EntityID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	var reason uint8
	if reason, err = r.ReadUint8(); err != nil {
		return p, err
	}
	p.Reason = DestroyReason(reason)
	return p, nil
}

// DeltaFlag bits indicate which EntityDelta fields are present; absent
// fields are unchanged since the last broadcast (§4.A).
type DeltaFlag uint8

const (
	DeltaPosition DeltaFlag = 1 << iota
	DeltaHealth
	DeltaRotation
	DeltaOwner
)

type EntityDelta struct {
	EntityID      uint32
	Flags         DeltaFlag
	X             float64
	Y             float64
	HP            int32
	Rotation      float64
	OwnerPlayerID uint32
}

func encodeEntityDelta(w *Writer, d EntityDelta) {
	w.WriteUint32(d.EntityID)
	w.WriteUint8(uint8(d.Flags))
	if d.Flags&DeltaPosition != 0 {
		w.WriteFloat64(d.X)
		w.WriteFloat64(d.Y)
	}
	if d.Flags&DeltaHealth != 0 {
		w.WriteInt32(d.HP)
	}
	if d.Flags&DeltaRotation != 0 {
		w.WriteFloat64(d.Rotation)
	}
	if d.Flags&DeltaOwner != 0 {
		w.WriteUint32(d.OwnerPlayerID)
	}
}

func decodeEntityDelta(r *Reader) (EntityDelta, error) {
	var d EntityDelta
	var err error
	if d.EntityID, err = r.ReadUint32(); err != nil {
		return d, err
	}
	var flags uint8
	if flags, err = r.ReadUint8(); err != nil {
		return d, err
	}
	d.Flags = DeltaFlag(flags)
	if d.Flags&DeltaPosition != 0 {
		if d.X, err = r.ReadFloat64(); err != nil {
			return d, err
		}
		if d.Y, err = r.ReadFloat64(); err != nil {
			return d, err
		}
	}
	if d.Flags&DeltaHealth != 0 {
		if d.HP, err = r.ReadInt32(); err != nil {
			return d, err
		}
	}
	if d.Flags&DeltaRotation != 0 {
		if d.Rotation, err = r.ReadFloat64(); err != nil {
			return d, err
		}
	}
	if d.Flags&DeltaOwner != 0 {
		if d.OwnerPlayerID, err = r.ReadUint32(); err != nil {
			return d, err
		}
	}
	return d, nil
}

type EntityUpdate struct {
	Tick   uint64
	Deltas []EntityDelta
}

func (p EntityUpdate) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint64(p.Tick)
	w.WriteUint16(uint16(len(p.Deltas)))
	for _, d := range p.Deltas {
		encodeEntityDelta(w, d)
	}
	return append([]byte(nil), w.Bytes()...)
}

func DecodeEntityUpdate(payload []byte) (EntityUpdate, error) {
	r := NewReader(payload)
	var p EntityUpdate
	var err error
	if p.Tick, err = r.ReadUint64(); err != nil {
		return p, err
	}
	n, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Deltas = make([]EntityDelta, 0, n)
	for i := uint16(0); i < n; i++ {
		d, err := decodeEntityDelta(r)
		if err != nil {
			return p, err
		}
		p.Deltas = append(p.Deltas, d)
	}
	return p, nil
}

type PlayerSnapshot struct {
	PlayerID uint32
	Gold     int32
	Lives    int32
	Score    int32
}

type StateSnapshot struct {
	Tick     uint64
	Entities []EntitySpawn
	Players  []PlayerSnapshot
}

func (p StateSnapshot) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint64(p.Tick)
	w.WriteUint16(uint16(len(p.Entities)))
	for _, e := range p.Entities {
		encodeEntitySpawn(w, e)
	}
	w.WriteUint16(uint16(len(p.Players)))
	for _, pl := range p.Players {
		w.WriteUint32(pl.PlayerID)
		w.WriteInt32(pl.Gold)
		w.WriteInt32(pl.Lives)
		w.WriteInt32(pl.Score)
	}
	return append([]byte(nil), w.Bytes()...)
}

func DecodeStateSnapshot(payload []byte) (StateSnapshot, error) {
	r := NewReader(payload)
	var p StateSnapshot
	var err error
	if p.Tick, err = r.ReadUint64(); err != nil {
		return p, err
	}
	ne, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Entities = make([]EntitySpawn, 0, ne)
	for i := uint16(0); i < ne; i++ {
		e, err := decodeEntitySpawn(r)
		if err != nil {
			return p, err
		}
		p.Entities = append(p.Entities, e)
	}
	np, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Players = make([]PlayerSnapshot, 0, np)
	for i := uint16(0); i < np; i++ {
		var pl PlayerSnapshot
		if pl.PlayerID, err = r.ReadUint32(); err != nil {
			return p, err
		}
		if pl.Gold, err = r.ReadInt32(); err != nil {
			return p, err
		}
		if pl.Lives, err = r.ReadInt32(); err != nil {
			return p, err
		}
		if pl.Score, err = r.ReadInt32(); err != nil {
			return p, err
		}
		p.Players = append(p.Players, pl)
	}
	return p, nil
}

type ChatBroadcast struct {
	Channel      uint8
	FromPlayerID uint32
	Text         string
}

func (p ChatBroadcast) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint8(p.Channel)
	w.WriteUint32(p.FromPlayerID)
	w.WriteString(p.Text)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeChatBroadcast(payload []byte) (ChatBroadcast, error) {
	r := NewReader(payload)
	var p ChatBroadcast
	var err error
	if p.Channel, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if p.FromPlayerID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	if p.Text, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

type Error struct {
	Code         ErrorCode
	Message      string
	HasRequestID bool
	RequestID    uuid.UUID
}

func (p Error) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint8(uint8(p.Code))
	w.WriteString(p.Message)
	w.WriteBool(p.HasRequestID)
	if p.HasRequestID {
		w.WriteUUID(p.RequestID)
	}
	return append([]byte(nil), w.Bytes()...)
}

func DecodeError(payload []byte) (Error, error) {
	r := NewReader(payload)
	var p Error
	var err error
	var code uint8
	if code, err = r.ReadUint8(); err != nil {
		return p, err
	}
	p.Code = ErrorCode(code)
	if p.Message, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.HasRequestID, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.HasRequestID {
		if p.RequestID, err = r.ReadUUID(); err != nil {
			return p, err
		}
	}
	return p, nil
}

type ItemDrop struct {
	DropID        uint32
	X             float64
	Y             float64
	ItemType      string
	Rarity        uint8
	ItemLevel     int32
	OwnerPlayerID uint32
}

func (p ItemDrop) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint32(p.DropID)
	w.WriteFloat64(p.X)
	w.WriteFloat64(p.Y)
	w.WriteString(p.ItemType)
	w.WriteUint8(p.Rarity)
	w.WriteInt32(p.ItemLevel)
	w.WriteUint32(p.OwnerPlayerID)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeItemDrop(payload []byte) (ItemDrop, error) {
	r := NewReader(payload)
	var p ItemDrop
	var err error
	if p.DropID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	if p.X, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.Y, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.ItemType, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.Rarity, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if p.ItemLevel, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.OwnerPlayerID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	return p, nil
}

type ItemCollectAck struct {
	Success bool
	ItemID  uuid.UUID
	Error   string
}

func (p ItemCollectAck) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteBool(p.Success)
	w.WriteUUID(p.ItemID)
	w.WriteString(p.Error)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeItemCollectAck(payload []byte) (ItemCollectAck, error) {
	r := NewReader(payload)
	var p ItemCollectAck
	var err error
	if p.Success, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.ItemID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.Error, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

type GamePause struct {
	IsPaused bool
	Reason   string
}

func (p GamePause) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteBool(p.IsPaused)
	w.WriteString(p.Reason)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeGamePause(payload []byte) (GamePause, error) {
	r := NewReader(payload)
	var p GamePause
	var err error
	if p.IsPaused, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.Reason, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

type PlayerInputAck struct {
	LastProcessedSequence uint32
}

func (p PlayerInputAck) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint32(p.LastProcessedSequence)
	return append([]byte(nil), w.Bytes()...)
}

func DecodePlayerInputAck(payload []byte) (PlayerInputAck, error) {
	r := NewReader(payload)
	var p PlayerInputAck
	var err error
	if p.LastProcessedSequence, err = r.ReadUint32(); err != nil {
		return p, err
	}
	return p, nil
}
