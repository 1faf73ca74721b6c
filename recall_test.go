package recall_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/testutils"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_FavoriteColor(t *testing.T) {
	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "u1", ThreadID: "t1"}

	model := testutils.NewScriptedModel(
		testutils.Turn{Calls: []domain.ToolCall{{
			ID:        "call_1",
			Name:      "save_recall_memory",
			Arguments: json.RawMessage(`{"memory":"User's favorite color is blue"}`),
		}}},
		testutils.Turn{Text: []string{"Got it, ", "blue it is."}},
	)
	model.Fallback = func(req ports.CompletionRequest) testutils.Turn {
		if strings.Contains(req.System, "blue") {
			return testutils.Turn{Text: []string{"Your favorite color is ", "blue."}}
		}
		return testutils.Turn{Text: []string{"I don't know."}}
	}

	mem := memory.NewRecallStore()
	store := memory.NewStore()
	agent, err := recall.New(model, mem,
		recall.WithCheckpointStore(store),
		recall.WithCheckpointPolicy(recall.CheckpointPerTurn),
	)
	require.NoError(t, err)

	reply, err := agent.Run(ctx, key, "My favorite color is blue")
	require.NoError(t, err)
	assert.False(t, reply.HasToolCalls())

	cp, err := agent.Thread(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Version)
	last, _ := cp.State.LastMessage()
	assert.Equal(t, domain.RoleAssistant, last.Role)
	assert.Empty(t, last.ToolCalls)

	var text strings.Builder
	for fragment, err := range agent.Stream(ctx, key, "What's my favorite color?") {
		require.NoError(t, err)
		text.WriteString(fragment)
	}
	assert.Contains(t, text.String(), "blue")

	cp, err = agent.Thread(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Version)
	assert.Equal(t, int64(2), cp.Turn)
	require.NotEmpty(t, cp.State.RecallMemories)
	assert.Contains(t, cp.State.RecallMemories[0], "blue")

	// Another owner sees none of u1's memories.
	other := domain.ConversationKey{OwnerID: "u2", ThreadID: "t1"}
	msg, err := agent.Run(ctx, other, "What's my favorite color?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", msg.Content)
}

func TestAgent_DefaultTools(t *testing.T) {
	agent, err := recall.New(testutils.NewScriptedModel(), memory.NewRecallStore())
	require.NoError(t, err)

	var names []string
	for _, def := range agent.Tools() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"save_recall_memory", "search_recall_memories", "get_date_time"}, names)
	assert.Equal(t, recall.StepLoadMemories, agent.Graph().Start())
}

func TestAgent_RequiresPorts(t *testing.T) {
	_, err := recall.New(nil, memory.NewRecallStore())
	assert.Error(t, err)
}

func TestAgent_DefaultPolicyWritesEveryStep(t *testing.T) {
	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "u1", ThreadID: "steps"}

	model := testutils.NewScriptedModel()
	model.Fallback = func(ports.CompletionRequest) testutils.Turn {
		return testutils.Turn{Text: []string{"ok"}}
	}
	agent, err := recall.New(model, &testutils.RecordingMemory{}, recall.WithoutDefaultTools())
	require.NoError(t, err)

	for turn, want := range []int64{2, 4} {
		_, err := agent.Run(ctx, key, "hello")
		require.NoError(t, err)

		cp, err := agent.Thread(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, cp.Version)
		assert.Equal(t, int64(turn+1), cp.Turn)
	}
}
