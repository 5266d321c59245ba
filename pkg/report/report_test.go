package report

import (
	"strings"
	"testing"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func fullSession() domain.Session {
	return domain.Session{
		ID:    "s1",
		State: domain.StateComplete,
		Questions: []domain.QA{
			{Question: "What is the main purpose of your app?", Answer: "Fitness", Answered: true},
			{Question: "What is your budget range?"},
		},
		Stages: map[string]map[string]any{
			"product": {
				"product":     map[string]any{"name": "Fitness Tracker Pro", "features": []any{"Workout tracking", "Social sharing"}},
				"diagram_url": "https://example.com/diagram.png",
			},
			"customer": {"segment": "Enthusiasts", "needs": []any{"Easy tracking"}},
			"engineer": {"feasibility": "High", "timeline": "4-6 months", "tech_stack": []any{"Go", "Redis"}, "complexity": "Medium"},
			"risk":     {"level": "Medium", "mitigations": []any{"Start with MVP"}, "concerns": []any{"Competition", "Retention"}},
			"tts":      {"tts_file": "https://example.com/speech.mp3"},
		},
		Summary:    "Ship it.",
		HasSummary: true,
	}
}

func TestRender_Full(t *testing.T) {
	want := `## Clarifier Questions & Answers

**Question:** What is the main purpose of your app?
**Answer:** Fitness

**Question:** What is your budget range?
**Answer:** Not answered

## Product Analysis

**Name:** Fitness Tracker Pro

**Features:**
- Workout tracking
- Social sharing

- **diagram_url:** https://example.com/diagram.png

## Customer Analysis

**Segment:** Enthusiasts

**Needs:**
- Easy tracking

## Engineering Analysis

**Feasibility:** High
**Timeline:** 4-6 months
**Tech Stack:** Go, Redis

- **complexity:** Medium

## Risk Analysis

**Risk Level:** Medium

**Mitigations:**
- Start with MVP

- **concerns:** Competition, Retention

## Additional Stages

### tts

- **tts_file:** https://example.com/speech.mp3

## Overall Summary

Ship it.
`
	assert.Equal(t, want, Render(fullSession()))
}

func TestRender_PlaceholdersKeepShape(t *testing.T) {
	s := domain.Session{State: domain.StateFailed, Stages: map[string]map[string]any{
		"customer": {"feedback": "Positive"},
	}}
	out := Render(s)

	assert.Equal(t, 5, strings.Count(out, notAvailable), out) // questions, product, engineer, risk, summary
	assert.Contains(t, out, "## Product Analysis\n\n_Not available_")
	assert.Contains(t, out, "**Segment:** N/A")
	assert.Contains(t, out, "- No needs specified")
	assert.Contains(t, out, "- **feedback:** Positive")
	assert.True(t, strings.HasSuffix(out, "## Overall Summary\n\n_Not available_\n"))
	assert.NotContains(t, out, "Additional Stages")
}

func TestRender_Deterministic(t *testing.T) {
	s := fullSession()
	first := Render(s)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Render(s))
	}
}

func TestRender_OrderIsCanonical(t *testing.T) {
	out := Render(fullSession())
	idx := func(s string) int { return strings.Index(out, s) }
	assert.Less(t, idx("## Clarifier"), idx("## Product"))
	assert.Less(t, idx("## Product"), idx("## Customer"))
	assert.Less(t, idx("## Customer"), idx("## Engineering"))
	assert.Less(t, idx("## Engineering"), idx("## Risk"))
	assert.Less(t, idx("## Risk"), idx("## Additional Stages"))
	assert.Less(t, idx("## Additional Stages"), idx("## Overall Summary"))
}

func TestProgress(t *testing.T) {
	s := domain.Session{
		State:     domain.StateRunning,
		Questions: []domain.QA{{Question: "q", Answer: "a", Answered: true}},
		Stages:    map[string]map[string]any{"product": {}, "risk": {}},
	}
	assert.Equal(t,
		"[x] clarifier  [x] product  [ ] customer  [ ] engineer  [x] risk  [ ] summary  (running)",
		Progress(s))
}
