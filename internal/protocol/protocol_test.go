package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCommand_NewSeatWithPassword(t *testing.T) {
	m := JoinCommand(RolePlayer, "vera", SexFemale, SlotNew, "hunter2")
	assert.Equal(t, "Connect\nplayer\nvera\nf\n-1\nhunter2", m.Text)
}

func TestJoinCommand_RejoinOmitsEmptyCredentials(t *testing.T) {
	m := JoinCommand(RoleShowman, "max", SexMale, SlotRejoin, "")
	assert.Equal(t, "Connect\nshowman\nmax\nm\n0", m.Text)
}

func TestMessage_KindAndArgs(t *testing.T) {
	m := Message{Text: "Refuse\nName_Exists"}
	assert.Equal(t, KindRefuse, m.Kind())
	assert.Equal(t, "Name_Exists", m.Arg(0))
	assert.Equal(t, "", m.Arg(1))

	bare := Message{Text: "GameInfo"}
	assert.Equal(t, KindGameInfo, bare.Kind())
	assert.Equal(t, "", bare.Arg(0))
	assert.Equal(t, "", bare.Payload())
}

func TestPushMessage_RoundTrip(t *testing.T) {
	g := GameSummary{
		ID:          7,
		Name:        "Friday night",
		Owner:       "max",
		Mode:        ModeTV,
		PasswordSet: true,
		RealStart:   time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
	m := PushMessage(KindGameCreated, g)
	require.Equal(t, KindGameCreated, m.Kind())

	got, err := ParseGameSummary(m)
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, g.Name, got.Name)
	assert.True(t, got.Started())
	assert.True(t, got.PasswordSet)
}

func TestParseGameDeleted(t *testing.T) {
	id, err := ParseGameDeleted(DeleteMessage(42))
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, err = ParseGameDeleted(Message{Text: "GameDeleted\nnot json"})
	assert.Error(t, err)
}
