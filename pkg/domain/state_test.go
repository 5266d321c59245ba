package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionClone_IsDeep(t *testing.T) {
	s := NewSession("s1")
	s.Questions = []QA{{Question: "q1"}}
	s.Stages["product"] = map[string]any{"features": []any{"a"}, "meta": map[string]any{"k": "v"}}

	c := s.Clone()
	c.Questions[0].Answered = true
	c.Stages["product"]["features"].([]any)[0] = "mutated"
	c.Stages["product"]["meta"].(map[string]any)["k"] = "x"
	c.History = append(c.History, StateFailed)

	assert.False(t, s.Questions[0].Answered)
	assert.Equal(t, "a", s.Stages["product"]["features"].([]any)[0])
	assert.Equal(t, "v", s.Stages["product"]["meta"].(map[string]any)["k"])
	assert.Equal(t, []State{StateStarting}, s.History)
}

func TestSession_PendingAndAnswers(t *testing.T) {
	s := NewSession("s1")
	s.Questions = []QA{
		{Question: "q1", Answer: "a1", Answered: true},
		{Question: "q2"},
		{Question: "q3", Answer: "", Answered: true},
	}
	assert.Equal(t, []string{"q2"}, s.Pending())
	assert.Equal(t, []string{"a1", ""}, s.Answers())
}

func TestSession_ValueMethods(t *testing.T) {
	snapshot := func() Session {
		s := NewSession("s1")
		s.Questions = []QA{{Question: "q1", Answer: "a1", Answered: true}, {Question: "q2"}}
		return *s
	}
	assert.Equal(t, []string{"q2"}, snapshot().Pending())
	assert.Equal(t, []string{"a1"}, snapshot().Answers())
	assert.Equal(t, "s1", snapshot().Clone().ID)
}

func TestState_Classification(t *testing.T) {
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateClarifying.Active())
	assert.False(t, StateIdle.Active())
}

func TestConversation_Fill(t *testing.T) {
	c := &Conversation{Questions: []QA{
		{Question: "purpose", Answer: "todo app", Answered: true},
		{Question: "audience"},
		{Question: "platforms"},
	}}

	assert.Equal(t, 1, c.Fill([]string{"students"}))
	assert.False(t, c.Done)
	assert.Equal(t, 1, c.Pending())

	assert.Equal(t, 1, c.Fill([]string{"ios", "surplus"}))
	assert.True(t, c.Done)
	assert.Equal(t, "ios", c.Questions[2].Answer)
	assert.Equal(t, 2, c.Round)
}
