package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyNames(t *testing.T) {
	k := New("chat")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"queue", k.QueuePending(), "chat:queue:pending"},
		{"assignment", k.Assignment("c-1"), "chat:assignment:c-1"},
		{"agent load", k.AgentLoad("ag-1"), "chat:agent:ag-1:load"},
		{"messages", k.ConversationMessages("c-1"), "chat:conversation:c-1:messages"},
		{"presence", k.Presence("cust-1"), "chat:presence:cust-1"},
		{"conversation lock", k.ConversationLock("c-1"), "chat:lock:conversation:c-1"},
		{"queue lock", k.QueueLock(), "chat:lock:queue"},
		{"lifecycle channel", k.LifecycleChannel(), "chat:events:lifecycle"},
		{"messages channel", k.MessagesChannel(), "chat:events:messages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestDefaultPrefix(t *testing.T) {
	k := New("")
	assert.Equal(t, DefaultPrefix, k.Prefix())
	assert.Equal(t, "parley:queue:pending", k.QueuePending())
}
