package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type GameMode string

const (
	ModeTV    GameMode = "tv"
	ModeSport GameMode = "sport"
)

// GameSummary is the server's snapshot of one remote game. The client never
// mutates a summary; update notifications replace the entry wholesale.
type GameSummary struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	Mode        GameMode  `json:"mode"`
	PasswordSet bool      `json:"password_set"`
	RealStart   time.Time `json:"real_start"`
	Seats       []Seat    `json:"seats"`
}

type Seat struct {
	Role     Role   `json:"role"`
	Name     string `json:"name,omitempty"`
	Occupied bool   `json:"occupied"`
}

// Started reports whether the game is already underway.
func (g GameSummary) Started() bool {
	return !g.RealStart.IsZero()
}

// GameInfo is the payload of Accepted and GameInfo replies: the persons
// currently in the game plus the routing address of its host node.
type GameInfo struct {
	GameID      int    `json:"game_id"`
	HostAddress string `json:"host_address"`
	Persons     []Seat `json:"persons"`
}

// ParseGameInfo decodes the JSON payload of a GameInfo or Accepted reply.
func ParseGameInfo(m Message) (GameInfo, error) {
	var gi GameInfo
	if err := json.Unmarshal([]byte(m.Payload()), &gi); err != nil {
		return GameInfo{}, fmt.Errorf("bad %s payload: %w", m.Kind(), err)
	}
	return gi, nil
}

// ParseGameSummary decodes the JSON payload of a GameCreated or GameChanged
// push notification.
func ParseGameSummary(m Message) (GameSummary, error) {
	var gs GameSummary
	if err := json.Unmarshal([]byte(m.Payload()), &gs); err != nil {
		return GameSummary{}, fmt.Errorf("bad %s payload: %w", m.Kind(), err)
	}
	return gs, nil
}

// ParseGameDeleted decodes the id carried by a GameDeleted notification.
func ParseGameDeleted(m Message) (int, error) {
	var p struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal([]byte(m.Payload()), &p); err != nil {
		return 0, fmt.Errorf("bad %s payload: %w", m.Kind(), err)
	}
	return p.ID, nil
}

// PushMessage encodes a summary as a lobby push notification. The server
// side owns this in production; tests use it to drive the directory.
func PushMessage(kind string, g GameSummary) Message {
	payload, _ := json.Marshal(g)
	return Message{Text: kind + "\n" + string(payload)}
}

// DeleteMessage encodes a GameDeleted notification for the given id.
func DeleteMessage(id int) Message {
	payload, _ := json.Marshal(struct {
		ID int `json:"id"`
	}{ID: id})
	return Message{Text: KindGameDeleted + "\n" + string(payload)}
}
