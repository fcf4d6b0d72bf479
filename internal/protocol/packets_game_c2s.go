package protocol

import "github.com/google/uuid"

// In-game packets sent by the client; valid only while the peer is InGame.

type PlayerInput struct {
	Sequence uint32
	Kind     uint8
	X        float64
	Y        float64
}

func (p PlayerInput) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint32(p.Sequence)
	w.WriteUint8(p.Kind)
	w.WriteFloat64(p.X)
	w.WriteFloat64(p.Y)
	return append([]byte(nil), w.Bytes()...)
}

func DecodePlayerInput(payload []byte) (PlayerInput, error) {
	r := NewReader(payload)
	var p PlayerInput
	var err error
	if p.Sequence, err = r.ReadUint32(); err != nil {
		return p, err
	}
	if p.Kind, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if p.X, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.Y, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	return p, nil
}

type TowerBuild struct {
	RequestID     uuid.UUID
	PlayerTowerID uuid.UUID
	TowerType     string
	GX            int32
	GY            int32
}

func (p TowerBuild) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUUID(p.RequestID)
	w.WriteUUID(p.PlayerTowerID)
	w.WriteString(p.TowerType)
	w.WriteInt32(p.GX)
	w.WriteInt32(p.GY)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeTowerBuild(payload []byte) (TowerBuild, error) {
	r := NewReader(payload)
	var p TowerBuild
	var err error
	if p.RequestID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.PlayerTowerID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.TowerType, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.GX, err = r.ReadInt32(); err != nil {
		return p, err
	}
	if p.GY, err = r.ReadInt32(); err != nil {
		return p, err
	}
	return p, nil
}

type TowerUpgrade struct {
	RequestID uuid.UUID
	EntityID  uint32
}

func (p TowerUpgrade) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUUID(p.RequestID)
	w.WriteUint32(p.EntityID)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeTowerUpgrade(payload []byte) (TowerUpgrade, error) {
	r := NewReader(payload)
	var p TowerUpgrade
	var err error
	if p.RequestID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.EntityID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	return p, nil
}

type TowerSell struct {
	RequestID uuid.UUID
	EntityID  uint32
}

func (p TowerSell) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUUID(p.RequestID)
	w.WriteUint32(p.EntityID)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeTowerSell(payload []byte) (TowerSell, error) {
	r := NewReader(payload)
	var p TowerSell
	var err error
	if p.RequestID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.EntityID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	return p, nil
}

type AbilityUse struct {
	Ability string
	TargetX float64
	TargetY float64
}

func (p AbilityUse) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteString(p.Ability)
	w.WriteFloat64(p.TargetX)
	w.WriteFloat64(p.TargetY)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeAbilityUse(payload []byte) (AbilityUse, error) {
	r := NewReader(payload)
	var p AbilityUse
	var err error
	if p.Ability, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.TargetX, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	if p.TargetY, err = r.ReadFloat64(); err != nil {
		return p, err
	}
	return p, nil
}

type ReadyState struct {
	IsReady bool
}

func (p ReadyState) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteBool(p.IsReady)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeReadyState(payload []byte) (ReadyState, error) {
	r := NewReader(payload)
	var p ReadyState
	var err error
	if p.IsReady, err = r.ReadBool(); err != nil {
		return p, err
	}
	return p, nil
}

type ChatMessage struct {
	Channel uint8
	Text    string
}

func (p ChatMessage) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint8(p.Channel)
	w.WriteString(p.Text)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeChatMessage(payload []byte) (ChatMessage, error) {
	r := NewReader(payload)
	var p ChatMessage
	var err error
	if p.Channel, err = r.ReadUint8(); err != nil {
		return p, err
	}
	if p.Text, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

type ItemCollect struct {
	RequestID uuid.UUID
	DropID    uint32
}

func (p ItemCollect) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUUID(p.RequestID)
	w.WriteUint32(p.DropID)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeItemCollect(payload []byte) (ItemCollect, error) {
	r := NewReader(payload)
	var p ItemCollect
	var err error
	if p.RequestID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.DropID, err = r.ReadUint32(); err != nil {
		return p, err
	}
	return p, nil
}
