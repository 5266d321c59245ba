package session

import (
	"testing"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(questions ...string) domain.ClarifierBatchEvent {
	ev := domain.ClarifierBatchEvent{}
	for _, q := range questions {
		ev.Questions = append(ev.Questions, domain.QA{Question: q})
	}
	return ev
}

func stage(name string, payload map[string]any) domain.StageResultEvent {
	return domain.StageResultEvent{Stage: name, Payload: payload}
}

func started(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(nil)
	out, err := m.Start("s1")
	require.NoError(t, err)
	require.Equal(t, domain.StateStarting, out.To)
	return m
}

func TestMachine_HappyPath(t *testing.T) {
	m := started(t)

	out := m.Apply(domain.StartEvent{EventBase: domain.EventBase{SessionID: "server-1"}})
	assert.False(t, out.Changed())
	assert.Equal(t, "server-1", m.Snapshot().ID)

	out = m.Apply(batch("Q1", "Q2"))
	assert.Equal(t, Outcome{From: domain.StateStarting, To: domain.StateClarifying}, out)

	q, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "Q1", q)

	out, err := m.Answer("A1")
	require.NoError(t, err)
	assert.False(t, out.Changed())
	q, _ = m.Current()
	assert.Equal(t, "Q2", q)

	out, err = m.Answer("A2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, out.To)

	m.Apply(stage("product", map[string]any{"name": "X"}))
	out = m.Apply(domain.CompleteEvent{Summary: "Done"})
	assert.Equal(t, domain.StateComplete, out.To)

	snap := m.Snapshot()
	assert.Equal(t, []domain.State{
		domain.StateStarting, domain.StateClarifying, domain.StateRunning, domain.StateComplete,
	}, snap.History)
	assert.Equal(t, []string{"A1", "A2"}, snap.Answers())
	assert.Equal(t, "Done", snap.Summary)
}

func TestMachine_NAnswersThenRunning(t *testing.T) {
	for n := 1; n <= 6; n++ {
		m := started(t)
		var qs []string
		for i := 0; i < n; i++ {
			qs = append(qs, string(rune('A'+i)))
		}
		m.Apply(batch(qs...))

		clarifyingSteps, runningEntries := 0, 0
		for i := 0; i < n; i++ {
			out, err := m.Answer("answer")
			require.NoError(t, err)
			if out.To == domain.StateClarifying {
				clarifyingSteps++
			}
			if out.Changed() && out.To == domain.StateRunning {
				runningEntries++
			}
		}
		// n answers: n-1 stay in clarifying, the last one leaves it.
		assert.Equal(t, n-1, clarifyingSteps, "n=%d", n)
		assert.Equal(t, 1, runningEntries, "n=%d", n)

		_, err := m.Answer("extra")
		assert.ErrorIs(t, err, domain.ErrProtocol)
	}
}

func TestMachine_AnswerRejectedOutsideClarifying(t *testing.T) {
	m := NewMachine(nil)
	_, err := m.Answer("x")
	assert.ErrorIs(t, err, domain.ErrProtocol)

	m = started(t)
	m.Apply(stage("product", nil))
	require.Equal(t, domain.StateRunning, m.State())
	_, err = m.Answer("x")
	assert.ErrorIs(t, err, domain.ErrProtocol)

	m.Apply(domain.CompleteEvent{})
	_, err = m.Answer("x")
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Equal(t, domain.StateComplete, m.State())
}

func TestMachine_AllAnsweredBatchGoesStraightToRunning(t *testing.T) {
	m := started(t)
	out := m.Apply(domain.ClarifierBatchEvent{Done: true, Questions: []domain.QA{
		{Question: "Q1", Answer: "A1", Answered: true},
	}})
	assert.Equal(t, domain.StateRunning, out.To)
	assert.Equal(t, []string{"A1"}, m.Snapshot().Answers())
}

func TestMachine_QuestionsMergeWithoutDuplicates(t *testing.T) {
	m := started(t)
	m.Apply(batch("Q1", "Q2"))
	m.Apply(domain.QuestionEvent{Question: "Q1"})
	m.Apply(domain.QuestionEvent{Question: "Q3"})
	m.Apply(domain.ClarifierBatchEvent{Questions: []domain.QA{
		{Question: "Q1", Answer: "server", Answered: true},
		{Question: "Q2"},
		{Question: "Q3"},
		{Question: "Q4"},
	}})

	snap := m.Snapshot()
	assert.Equal(t, []string{"Q1", "Q2", "Q3", "Q4"}, snap.Pending())
	assert.Equal(t, domain.StateClarifying, snap.State)
}

func TestMachine_RepeatedQuestionTextInLaterRound(t *testing.T) {
	m := started(t)
	m.Apply(batch("Why?", "For whom?"))
	_, err := m.Answer("speed")
	require.NoError(t, err)

	m.Apply(domain.ClarifierBatchEvent{Questions: []domain.QA{
		{Question: "Why?", Answer: "speed", Answered: true},
		{Question: "For whom?"},
		{Question: "Why?"},
	}})

	snap := m.Snapshot()
	assert.Equal(t, []string{"For whom?", "Why?"}, snap.Pending())
	assert.Len(t, snap.Questions, 3)

	_, err = m.Answer("students")
	require.NoError(t, err)
	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "Why?", current)

	m.Apply(domain.QuestionEvent{Question: "Why?"})
	assert.Len(t, m.Snapshot().Questions, 3, "a still-pending question asked again is not duplicated")

	out, err := m.Answer("they asked")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, out.To)
	assert.Equal(t, []string{"speed", "students", "they asked"}, m.Snapshot().Answers())
}

func TestMachine_SingleQuestionEventStartsClarifying(t *testing.T) {
	m := started(t)
	out := m.Apply(domain.QuestionEvent{Question: "Who?"})
	assert.Equal(t, domain.StateClarifying, out.To)
}

func TestMachine_ProtocolErrorsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		ev    domain.Event
	}{
		{"stage while clarifying", func(m *Machine) { m.Apply(batch("Q")) }, stage("product", nil)},
		{"batch while running", func(m *Machine) { m.Apply(stage("product", nil)) }, batch("Q")},
		{"question while running", func(m *Machine) { m.Apply(stage("product", nil)) }, domain.QuestionEvent{Question: "Q"}},
		{"stage after complete", func(m *Machine) { m.Apply(domain.CompleteEvent{}) }, stage("tts", nil)},
		{"question after complete", func(m *Machine) { m.Apply(domain.CompleteEvent{}) }, domain.QuestionEvent{Question: "Q"}},
		{"complete while clarifying", func(m *Machine) { m.Apply(batch("Q")) }, domain.CompleteEvent{}},
		{"start while running", func(m *Machine) { m.Apply(stage("product", nil)) }, domain.StartEvent{}},
		{"error after failure", func(m *Machine) { m.Fail(nil) }, domain.ErrorEvent{Err: &domain.BackendError{Message: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := started(t)
			tt.setup(m)
			before := m.Snapshot()

			out := m.Apply(tt.ev)
			assert.ErrorIs(t, out.Err, domain.ErrProtocol)
			assert.False(t, out.Changed())
			assert.Equal(t, before, m.Snapshot())
		})
	}
}

func TestMachine_DecodeErrorsAreSkipped(t *testing.T) {
	m := started(t)
	m.Apply(stage("product", nil))

	out := m.Apply(domain.ErrorEvent{Err: domain.NewDecodeError([]byte("{"), "invalid json", nil)})
	assert.ErrorIs(t, out.Err, domain.ErrDecode)
	assert.Equal(t, domain.StateRunning, m.State())
}

func TestMachine_ErrorFailsAndKeepsStages(t *testing.T) {
	m := started(t)
	m.Apply(stage("product", map[string]any{"name": "X"}))

	out := m.Apply(domain.ErrorEvent{Err: &domain.BackendError{Message: "agent crashed"}})
	assert.Equal(t, domain.StateFailed, out.To)

	snap := m.Snapshot()
	assert.Equal(t, "X", snap.Stages["product"]["name"])
	assert.Equal(t, "backend: agent crashed", snap.Err)
	assert.ErrorIs(t, m.Err(), domain.ErrBackend)

	// A fresh start is the only way out.
	_, err := m.Start("s2")
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot().Stages)
	assert.NoError(t, m.Err())
}

func TestMachine_StartRejectedWhileActive(t *testing.T) {
	m := started(t)
	_, err := m.Start("again")
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Equal(t, "s1", m.Snapshot().ID)
}

func TestMachine_StatusIsRecorded(t *testing.T) {
	m := NewMachine(nil)
	assert.False(t, m.Apply(domain.StatusEvent{Message: "hello"}).Dropped())

	m = started(t)
	m.Apply(domain.ProgressEvent{Message: "Round 1"})
	assert.Equal(t, "Round 1", m.Snapshot().Status)
}

func TestMachine_StageReplayIsIdempotent(t *testing.T) {
	events := []domain.Event{
		stage("product", map[string]any{"name": "X", "features": []any{"a"}}),
		stage("risk", map[string]any{"level": "Low"}),
		domain.CompleteEvent{Summary: "Done"},
	}

	once := started(t)
	for _, ev := range events {
		once.Apply(ev)
	}

	twice := started(t)
	twice.Apply(events[0])
	twice.Apply(events[0])
	twice.Apply(events[1])
	twice.Apply(events[1])
	twice.Apply(events[2])

	assert.Equal(t, report.Render(once.Snapshot()), report.Render(twice.Snapshot()))
}

func TestMachine_StageLastWriteWins(t *testing.T) {
	m := started(t)
	m.Apply(stage("product", map[string]any{"name": "old"}))
	m.Apply(stage("product", map[string]any{"name": "new"}))
	assert.Equal(t, "new", m.Snapshot().Stages["product"]["name"])
}
