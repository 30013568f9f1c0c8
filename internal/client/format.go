package client

import (
	"fmt"

	"github.com/luciancaetano/relaynet/internal/protocol"
)

const timeLayout = "03:04 PM"

// Format renders msg as a display line: "[03:04 PM] *Alice*: hello" for chat
// and "[03:04 PM] *Alice joined*" for system notices. The time is shown in
// the local zone.
func Format(msg protocol.Message) string {
	stamp := msg.CreatedAt.Local().Format(timeLayout)
	if msg.Kind == protocol.KindChat {
		return fmt.Sprintf("[%s] *%s*: %s", stamp, msg.Sender, msg.Payload)
	}
	return fmt.Sprintf("[%s] %s", stamp, msg.Payload)
}
