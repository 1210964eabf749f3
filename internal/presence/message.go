package presence

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gridsync/internal/scope"
)

// Group names.
const (
	AdminGroup = "admin_room"
	ChatGroup  = "general"

	districtPrefix = "district_"
)

// Message types exchanged over the realtime channel.
const (
	TypeJoinRoom       = "join_room"
	TypeJoinChat       = "join_chat"
	TypeLockCell       = "lock_cell"
	TypeUnlockCell     = "unlock_cell"
	TypeDataUpdated    = "data_updated"
	TypeSendMessage    = "send_message"
	TypeCellLocked     = "cell_locked"
	TypeCellUnlocked   = "cell_unlocked"
	TypeRemoteUpdate   = "remote_update"
	TypeReceiveMessage = "receive_message"
	TypeJoined         = "joined"
	TypeError          = "error"
)

// DistrictGroup is the routing group of one district.
func DistrictGroup(districtID int64) string {
	return districtPrefix + strconv.FormatInt(districtID, 10)
}

// HomeGroup is the group a connection joins at setup: its district group, or
// the admin group for administrators.
func HomeGroup(sc scope.Scope) string {
	if d, ok := sc.District(); ok && !sc.IsAdmin() {
		return DistrictGroup(d)
	}
	return AdminGroup
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds a wire frame.
func Encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// Decode parses a wire frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame has no type")
	}
	return env, nil
}
