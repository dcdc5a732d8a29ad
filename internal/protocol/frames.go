// Package protocol defines the duel wire protocol. All frames are UTF-8
// text. Inbound frames are classified by reserved prefix; everything that
// is not a recognised side-channel message is an answer. Outbound frames
// are a fixed set of reserved strings.
package protocol

import (
	"fmt"
	"strconv"
	"time"
)

// Client -> Server reserved prefixes. Exact string match at the start of
// the frame; the remainder is the payload.
const (
	PrefixChat  = "MessageToChat "
	PrefixEmoji = "SendEmoji "
)

// Server -> Client reserved strings.
const (
	MsgConnected            = "Connected"
	MsgTokenAccepted        = "token accepted"
	MsgInvalidToken         = "invalid token"
	MsgSearchStarted        = "Search started"
	MsgAlreadyInMatch       = "already in a match"
	MsgMatchStarted         = "match started"
	MsgPing                 = "ping"
	MsgOpponentDisconnected = "opponent disconnected"
	MsgCorrect              = "correct"
	MsgIncorrect            = "incorrect"
	MsgOpponentAnswered     = "other player answered. next task"
	MsgTimeUp               = "time is up. next task"
	MsgNoTasks              = "нет задач"
)

// Kind classifies an inbound frame.
type Kind int

const (
	KindAnswer Kind = iota
	KindChat
	KindEmoji
)

// Classify splits an inbound frame into its kind and payload. Frames that
// do not carry a reserved prefix are answers; the payload is the frame
// itself.
func Classify(frame string) (Kind, string) {
	if rest, ok := cutPrefix(frame, PrefixChat); ok {
		return KindChat, rest
	}
	if rest, ok := cutPrefix(frame, PrefixEmoji); ok {
		return KindEmoji, rest
	}
	return KindAnswer, frame
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

// FormatTask announces a problem as its bare integer id.
func FormatTask(taskID int64) string {
	return strconv.FormatInt(taskID, 10)
}

// FormatChat wraps a relayed chat payload.
func FormatChat(payload string) string {
	return "chat message " + payload
}

// FormatEmoji wraps a relayed emoji payload.
func FormatEmoji(payload string) string {
	return "emoji " + payload
}

// FormatRateLimited tells the client how long the answer pacing window is.
func FormatRateLimited(window time.Duration) string {
	return fmt.Sprintf("please wait %d seconds between answers", int(window.Seconds()))
}

// Match outcome verbs for FormatResult.
const (
	ResultWin  = "win"
	ResultLoss = "loss"
	ResultDraw = "draw"
)

// FormatResult builds the final frame of a match: the outcome verb followed
// by the player's new rating with one decimal place.
func FormatResult(outcome string, rating float64) string {
	return fmt.Sprintf("%s %.1f", outcome, rating)
}
