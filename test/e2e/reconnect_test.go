package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReconnectReadsTailWithoutDuplicates drops a customer socket mid
// conversation and rejoins with the same token. History comes back over REST
// in send order, and the next live message arrives on the new socket exactly
// once.
func TestReconnectReadsTailWithoutDuplicates(t *testing.T) {
	app := NewTestApp(t)

	customer := ConnectWS(t, app.WSURL, CustomerParams("cust-tok-rc", "Ada"))
	hs := customer.WaitForHandshake(5 * time.Second)
	require.NotNil(t, hs.Conversation)
	conv := hs.Conversation

	app.QueueConversation(t, conv.ID, "web")
	app.AcceptConversation(t, conv.ID, "ag-1", "Grace")

	agent := ConnectWS(t, app.WSURL, AgentRoomParams("ag-1", "Grace", conv.ID))
	agent.WaitForHandshake(5 * time.Second)

	// A short exchange before the drop, each send confirmed.
	customer.SendChatMessage("first", 1)
	require.Nil(t, customer.WaitForAck(1, 5*time.Second).Error)
	agent.SendChatMessage("second", 1)
	require.Nil(t, agent.WaitForAck(1, 5*time.Second).Error)
	customer.SendChatMessage("third", 2)
	require.Nil(t, customer.WaitForAck(2, 5*time.Second).Error)

	// The customer drops and comes back with the same token.
	customer.Close()

	rejoined := ConnectWS(t, app.WSURL, RejoinParams("cust-tok-rc", "Ada", conv.ID))
	rehs := rejoined.WaitForHandshake(5 * time.Second)
	require.NotNil(t, rehs.Conversation)
	assert.Equal(t, conv.ID, rehs.Conversation.ID)
	assert.Equal(t, hs.Participant.ID, rehs.Participant.ID)

	// History is fetched over REST, in send order.
	msgs := app.GetMessages(t, conv.ID)
	contents := make([]string, len(msgs))
	for i, m := range msgs {
		contents[i] = m.Content
	}
	assert.Equal(t, []string{"first", "second", "third"}, contents)

	// The next live message reaches the new socket exactly once.
	agent.SendChatMessage("fourth", 2)
	require.Nil(t, agent.WaitForAck(2, 5*time.Second).Error)
	live := rejoined.WaitForChatContent("fourth", 5*time.Second)

	time.Sleep(300 * time.Millisecond)
	seen := 0
	for _, m := range rejoined.ChatMessages() {
		if m.ID == live.ID {
			seen++
		}
	}
	assert.Equal(t, 1, seen)

	// And the tail already carries it for the next fetch.
	msgs = app.GetMessages(t, conv.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, "fourth", msgs[3].Content)
	assert.Equal(t, live.ID, msgs[3].ID)
}

// TestRejoinClosedConversationIsRejected reconnects into a conversation that
// closed while the customer was away.
func TestRejoinClosedConversationIsRejected(t *testing.T) {
	app := NewTestApp(t)

	customer := ConnectWS(t, app.WSURL, CustomerParams("cust-tok-gone", "Ada"))
	hs := customer.WaitForHandshake(5 * time.Second)
	require.NotNil(t, hs.Conversation)
	customer.Close()

	app.CloseAsCustomer(t, hs.Conversation.ID, hs.Participant.ID)

	rejoined := ConnectWS(t, app.WSURL, RejoinParams("cust-tok-gone", "Ada", hs.Conversation.ID))
	ev := rejoined.WaitForEvent("system:error", 5*time.Second)
	require.NotNil(t, ev.Error)
	assert.Contains(t, ev.Error.Message, "closed")
	assert.True(t, rejoined.Disconnected(5*time.Second))
}
