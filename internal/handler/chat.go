package handler

import (
	"strings"
	"unicode/utf8"

	"github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"go.uber.org/zap"
)

const maxChatLength = 200

// HandleSay broadcasts a chat line to every player in view range,
// the speaker included.
func HandleSay(sess *net.Session, msg *packet.Say, deps *Deps) {
	id, ok := inWorld(sess, msg.Type())
	if !ok {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		reject(sess, msg.Type(), "message too long")
		return
	}
	e, err := deps.World.Get(id)
	if err != nil {
		return
	}
	n := BroadcastNearby(deps, e.Zone, e.Pos, &packet.Chat{From: uint64(id), Name: sess.CharName, Text: text})
	deps.Log.Debug("說話", zap.String("player", sess.CharName), zap.Int("heard_by", n))
}
