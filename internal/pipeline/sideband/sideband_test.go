package sideband

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duskproxy/mudproxy/internal/domain"
)

func TestExtractAllStripsFrameAndKeepsSurroundingText(t *testing.T) {
	payload := "A100~B100"
	marker := "%00001" + lengthField(len(payload)) + "FFF" + payload
	line := "before " + marker + " after"

	remainder, frames := ExtractAll(line)
	require.Equal(t, "before  after", remainder)
	require.Len(t, frames, 1)
	require.Equal(t, "FFF", frames[0].Type)
	require.Equal(t, payload, frames[0].Payload)
}

func TestExtractAllNoMarker(t *testing.T) {
	remainder, frames := ExtractAll("just a plain line")
	require.Equal(t, "just a plain line", remainder)
	require.Nil(t, frames)
}

func TestExtractAllTruncatedPayloadLeftAlone(t *testing.T) {
	// Declares a length of 50 but only 3 bytes actually follow.
	line := "%00001050FFFabc"
	remainder, frames := ExtractAll(line)
	require.Nil(t, frames, "expected no frames for truncated payload")
	require.Equal(t, line, remainder, "expected untouched line")
}

func TestApplyFrameFFF(t *testing.T) {
	stats := &domain.SidebandStats{}
	ApplyFrame(stats, Frame{Type: "FFF", Payload: "A80~B100~C20~D40~Kgoblin~L75~N3"})
	require.Equal(t, 80, stats.HPCurrent)
	require.Equal(t, 100, stats.HPMax)
	require.Equal(t, "goblin", stats.EnemyName)
	require.Equal(t, 75, stats.EnemyPercent)
	require.Equal(t, 3, stats.CombatRound)
}

func TestApplyFrameRoomAndExits(t *testing.T) {
	stats := &domain.SidebandStats{}
	ApplyFrame(stats, Frame{Type: "BAD", Payload: "The Town Square"})
	ApplyFrame(stats, Frame{Type: "DDD", Payload: "north~south~east"})
	require.Equal(t, "The Town Square", stats.RoomName)
	require.Equal(t, []string{"north", "south", "east"}, stats.Exits)
}

func TestApplyFrameChannelChat(t *testing.T) {
	msg, ok := ApplyFrame(&domain.SidebandStats{}, Frame{Type: "CAA", Payload: "ooc~hello there"})
	require.True(t, ok, "expected chat message")
	require.Equal(t, "ooc", msg.Channel)
	require.Equal(t, "hello there", msg.RawText)
}

func TestApplyFrameTellIn(t *testing.T) {
	msg, ok := ApplyFrame(&domain.SidebandStats{}, Frame{Type: "BAB", Payload: "~Gandalf~you shall not pass"})
	require.True(t, ok, "expected chat message")
	require.Equal(t, "tell_in", msg.ChatType)
}

func TestGuildVarsParsed(t *testing.T) {
	stats := &domain.SidebandStats{}
	ApplyFrame(stats, Frame{Type: "FFF", Payload: "Imana: [50/100]"})
	require.Equal(t, "50/100", stats.GuildVars["mana"])
}

func TestColorMarkupToSpans(t *testing.T) {
	got := ColorMarkupToSpans("<rhello>world")
	require.Equal(t, `<span class="mip-color-r">hello</span>world`, got)
}

func lengthField(n int) string {
	return fmt.Sprintf("%03d", n)
}
