package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Message kinds. The first line of every wire message names its kind;
// the remaining lines (if any) are arguments or a JSON payload.
const (
	KindConnect  = "Connect"
	KindGame     = "Game"
	KindNoGame   = "NoGame"
	KindGameInfo = "GameInfo"
	KindAccepted = "Accepted"
	KindRefuse   = "Refuse"
	KindUpgrade  = "Upgrade"
	KindGetInfo  = "GetInfo"

	// Lobby push notifications.
	KindGameCreated = "GameCreated"
	KindGameChanged = "GameChanged"
	KindGameDeleted = "GameDeleted"
)

// Slot values carried by the Connect command.
const (
	SlotNew    = -1 // claim a brand-new seat
	SlotRejoin = 0  // resume a seat already bound to this identity
)

// GameIDUnknown marks a session whose numeric game id has not been
// resolved yet.
const GameIDUnknown = -1

type Role string

const (
	RoleShowman Role = "showman"
	RolePlayer  Role = "player"
	RoleViewer  Role = "viewer"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleShowman, RolePlayer, RoleViewer:
		return Role(s), true
	default:
		return "", false
	}
}

type Sex string

const (
	SexMale   Sex = "m"
	SexFemale Sex = "f"
)

// Message is one opaque text record on the bus.
type Message struct {
	Text string
}

func (m Message) lines() []string {
	return strings.Split(m.Text, "\n")
}

// Kind returns the first line of the message.
func (m Message) Kind() string {
	if i := strings.IndexByte(m.Text, '\n'); i >= 0 {
		return m.Text[:i]
	}
	return m.Text
}

// Arg returns argument i (zero-based, counted after the kind line), or ""
// when the message is shorter than that.
func (m Message) Arg(i int) string {
	ls := m.lines()
	if i+1 >= len(ls) {
		return ""
	}
	return ls[i+1]
}

// Payload returns everything after the kind line, undissected. Push
// notifications carry JSON here.
func (m Message) Payload() string {
	if i := strings.IndexByte(m.Text, '\n'); i >= 0 {
		return m.Text[i+1:]
	}
	return ""
}

// JoinCommand builds the Connect command of the join handshake. The
// credentials line is omitted entirely when empty.
func JoinCommand(role Role, name string, sex Sex, slot int, credentials string) Message {
	text := fmt.Sprintf("%s\n%s\n%s\n%s\n%d", KindConnect, role, name, sex, slot)
	if credentials != "" {
		text += "\n" + credentials
	}
	return Message{Text: text}
}

// GameIDCommand asks the server to confirm a numeric game id.
func GameIDCommand(gameID int) Message {
	return Message{Text: KindGame + "\n" + strconv.Itoa(gameID)}
}

// GameInfoRequest asks for the current roster before joining.
func GameInfoRequest() Message {
	return Message{Text: KindGameInfo}
}

// GetInfoRequest asks for a full authoritative state refresh.
func GetInfoRequest() Message {
	return Message{Text: KindGetInfo}
}

// UpgradeCommand promotes an anonymous socket to one carrying an
// already-authenticated identity.
func UpgradeCommand(token string) Message {
	return Message{Text: KindUpgrade + "\n" + token}
}
