package protocol

import "github.com/google/uuid"

// Lobby packets, allowed in states Lobby and InGame (§4.D).

// PlayerDataRequest asks the server to resend the player's towers/items.
// It carries no fields.
type PlayerDataRequest struct{}

func (PlayerDataRequest) Encode() []byte { return nil }

func DecodePlayerDataRequest(payload []byte) (PlayerDataRequest, error) {
	return PlayerDataRequest{}, nil
}

type PlayerTowerSummary struct {
	PlayerTowerID uuid.UUID
	TowerType     string
	Level         int32
}

type PlayerTowersResponse struct {
	Towers []PlayerTowerSummary
}

func (p PlayerTowersResponse) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint16(uint16(len(p.Towers)))
	for _, t := range p.Towers {
		w.WriteUUID(t.PlayerTowerID)
		w.WriteString(t.TowerType)
		w.WriteInt32(t.Level)
	}
	return append([]byte(nil), w.Bytes()...)
}

func DecodePlayerTowersResponse(payload []byte) (PlayerTowersResponse, error) {
	r := NewReader(payload)
	var p PlayerTowersResponse
	n, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Towers = make([]PlayerTowerSummary, 0, n)
	for i := uint16(0); i < n; i++ {
		var t PlayerTowerSummary
		if t.PlayerTowerID, err = r.ReadUUID(); err != nil {
			return p, err
		}
		if t.TowerType, err = r.ReadString(); err != nil {
			return p, err
		}
		if t.Level, err = r.ReadInt32(); err != nil {
			return p, err
		}
		p.Towers = append(p.Towers, t)
	}
	return p, nil
}

type ItemSummary struct {
	ItemID    uuid.UUID
	ItemType  string
	Rarity    uint8
	ItemLevel int32
}

type PlayerItemsResponse struct {
	Items []ItemSummary
}

func (p PlayerItemsResponse) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint16(uint16(len(p.Items)))
	for _, it := range p.Items {
		w.WriteUUID(it.ItemID)
		w.WriteString(it.ItemType)
		w.WriteUint8(it.Rarity)
		w.WriteInt32(it.ItemLevel)
	}
	return append([]byte(nil), w.Bytes()...)
}

func DecodePlayerItemsResponse(payload []byte) (PlayerItemsResponse, error) {
	r := NewReader(payload)
	var p PlayerItemsResponse
	n, err := r.ReadUint16()
	if err != nil {
		return p, err
	}
	p.Items = make([]ItemSummary, 0, n)
	for i := uint16(0); i < n; i++ {
		var it ItemSummary
		if it.ItemID, err = r.ReadUUID(); err != nil {
			return p, err
		}
		if it.ItemType, err = r.ReadString(); err != nil {
			return p, err
		}
		if it.Rarity, err = r.ReadUint8(); err != nil {
			return p, err
		}
		if it.ItemLevel, err = r.ReadInt32(); err != nil {
			return p, err
		}
		p.Items = append(p.Items, it)
	}
	return p, nil
}

type RequestMatch struct {
	Mode uint8
}

func (p RequestMatch) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteUint8(p.Mode)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeRequestMatch(payload []byte) (RequestMatch, error) {
	r := NewReader(payload)
	var p RequestMatch
	var err error
	if p.Mode, err = r.ReadUint8(); err != nil {
		return p, err
	}
	return p, nil
}

type RequestMatchAck struct {
	Success bool
	MatchID uuid.UUID
	Error   string
}

func (p RequestMatchAck) Encode() []byte {
	w := GetWriter()
	defer w.Put()
	w.WriteBool(p.Success)
	w.WriteUUID(p.MatchID)
	w.WriteString(p.Error)
	return append([]byte(nil), w.Bytes()...)
}

func DecodeRequestMatchAck(payload []byte) (RequestMatchAck, error) {
	r := NewReader(payload)
	var p RequestMatchAck
	var err error
	if p.Success, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.MatchID, err = r.ReadUUID(); err != nil {
		return p, err
	}
	if p.Error, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

// ReturnToLobby carries no fields; it signals a peer's session has ended.
type ReturnToLobby struct{}

func (ReturnToLobby) Encode() []byte { return nil }

func DecodeReturnToLobby(payload []byte) (ReturnToLobby, error) {
	return ReturnToLobby{}, nil
}
