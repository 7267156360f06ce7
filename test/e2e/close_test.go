package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
)

// TestCloseDuringActiveSendKeepsOrdering closes the conversation while a
// customer is pumping messages through it. Whatever the interleaving, the
// closure notice lands after every accepted message and before the CLOSED
// event, in the audit and on the wire; refused sends leave no trace.
func TestCloseDuringActiveSendKeepsOrdering(t *testing.T) {
	app := NewTestApp(t)

	customer := ConnectWS(t, app.WSURL, CustomerParams("cust-close-race", "Ada"))
	hs := customer.WaitForHandshake(5 * time.Second)
	require.NotNil(t, hs.Conversation)
	conv := hs.Conversation

	app.QueueConversation(t, conv.ID, "web")
	app.AcceptConversation(t, conv.ID, "ag-1", "Grace")

	// Sends run sequentially in the background until one is refused.
	var sent []string
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for i := 0; i < 500; i++ {
			content := fmt.Sprintf("burst-%d", i)
			switch status := app.TrySendMessage(t, conv.ID, hs.Participant.ID, content); status {
			case http.StatusCreated:
				sent = append(sent, content)
			case http.StatusConflict:
				return
			default:
				t.Errorf("send %s: unexpected status %d", content, status)
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	closed := app.CloseAsAgent(t, conv.ID, "ag-1", "Grace")
	assert.Equal(t, models.StatusClosed, closed.Status)
	<-doneCh

	// Audit: accepted messages in send order, then the notice, nothing after.
	msgs := app.GetMessages(t, conv.ID)
	require.Len(t, msgs, len(sent)+1)
	for i, want := range sent {
		assert.Equal(t, want, msgs[i].Content)
	}
	notice := msgs[len(sent)]
	assert.Equal(t, models.MessageSystem, notice.Type)
	assert.Contains(t, notice.Content, "Grace has closed this chat")

	// Wire: on the customer socket, every accepted message precedes the
	// notice, and the notice precedes the CLOSED event.
	require.True(t, customer.Disconnected(10*time.Second))
	frames := customer.Events()
	lastChatIdx, noticeIdx, closedIdx := -1, -1, -1
	for i, ev := range frames {
		switch ev.Event {
		case "chat:message":
			var msg models.Message
			require.NoError(t, json.Unmarshal(ev.Data, &msg))
			if msg.Type == models.MessageSystem {
				noticeIdx = i
			} else {
				lastChatIdx = i
			}
		case "system:event":
			var env events.Envelope
			if json.Unmarshal(ev.Data, &env) == nil && env.Type == events.EventTypeConversationClosed {
				closedIdx = i
			}
		}
	}
	require.GreaterOrEqual(t, noticeIdx, 0, "closure notice never reached the room")
	require.GreaterOrEqual(t, closedIdx, 0, "CLOSED event never reached the room")
	assert.Less(t, noticeIdx, closedIdx, "notice must precede the CLOSED event")
	if lastChatIdx >= 0 {
		assert.Less(t, lastChatIdx, noticeIdx, "no message may land after the notice")
	}
}

// TestSendAfterCloseIsRefused checks the plain post-close refusal outside any
// race.
func TestSendAfterCloseIsRefused(t *testing.T) {
	app := NewTestApp(t)

	conv := app.StartConversation(t, "cust-after-close", "Ada")
	app.CloseAsCustomer(t, conv.ID, "cust-after-close")

	status := app.TrySendMessage(t, conv.ID, "cust-after-close", "anyone there?")
	assert.Equal(t, http.StatusConflict, status)

	msgs := app.GetMessages(t, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageSystem, msgs[0].Type)
}
