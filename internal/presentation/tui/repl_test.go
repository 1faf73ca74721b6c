package tui

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	keys      []domain.ConversationKey
	questions []string
	reply     []string
	err       error
}

func (f *fakeAgent) Stream(_ context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error] {
	f.keys = append(f.keys, key)
	f.questions = append(f.questions, question)
	return func(yield func(string, error) bool) {
		for _, frag := range f.reply {
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func TestREPL_StreamsRepliesUntilExit(t *testing.T) {
	agent := &fakeAgent{reply: []string{"Hi", " Ana"}}
	var out bytes.Buffer
	r := &REPL{
		Agent: agent,
		Key:   domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"},
		In:    strings.NewReader("hello\n\n  \nhow are you?\nexit\nignored\n"),
		Out:   &out,
	}

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"hello", "how are you?"}, agent.questions)
	assert.Equal(t, 2, strings.Count(out.String(), "Hi Ana\n"))
	assert.Contains(t, out.String(), "Bye!")
}

func TestREPL_NewThread(t *testing.T) {
	agent := &fakeAgent{reply: []string{"ok"}}
	r := &REPL{
		Agent: agent,
		Key:   domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"},
		In:    strings.NewReader("one\n/new\ntwo\n"),
		Out:   &bytes.Buffer{},
	}

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, agent.keys, 2)
	assert.Equal(t, "t1", agent.keys[0].ThreadID)
	assert.NotEqual(t, "t1", agent.keys[1].ThreadID)
	assert.Equal(t, "ana", agent.keys[1].OwnerID)
}

func TestREPL_ErrorsDoNotEndTheSession(t *testing.T) {
	agent := &fakeAgent{reply: []string{"par"}, err: errors.New("model unavailable")}
	var out bytes.Buffer
	r := &REPL{
		Agent: agent,
		Key:   domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"},
		In:    strings.NewReader("a\nb\n"),
		Out:   &out,
	}

	require.NoError(t, r.Run(context.Background()))

	assert.Len(t, agent.questions, 2)
	assert.Equal(t, 2, strings.Count(out.String(), "Error: model unavailable"))
}

func TestREPL_RenderBuffersReply(t *testing.T) {
	agent := &fakeAgent{reply: []string{"**bold", "** text"}}
	var rendered []string
	var out bytes.Buffer
	r := &REPL{
		Agent: agent,
		Key:   domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"},
		Render: func(md string) (string, error) {
			rendered = append(rendered, md)
			return "<" + md + ">\n", nil
		},
		In:  strings.NewReader("q\n"),
		Out: &out,
	}

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"**bold** text"}, rendered)
	assert.Contains(t, out.String(), "<**bold** text>")
}

func TestNewRenderer(t *testing.T) {
	render, err := NewRenderer(40)
	require.NoError(t, err)
	got, err := render("# Title")
	require.NoError(t, err)
	assert.Contains(t, got, "Title")
}

func TestPrintBanner(t *testing.T) {
	var out bytes.Buffer
	PrintBanner(&out)
	assert.Contains(t, out.String(), "|_|")
}
