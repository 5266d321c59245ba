package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/prdflow/internal/presentation/graph"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		session  func() domain.Session
		overlay  bool
		contains []string
		excludes []string
	}{
		{
			name:    "shapes",
			session: func() domain.Session { return *domain.NewSession("s") },
			contains: []string{
				`start(("start"))`,
				`clarifier[/"clarifier"/]`,
				`product[["product"]]`,
				`summary(("summary"))`,
				"risk --> summary",
				"clarifier --> product",
			},
			excludes: []string{"classDef"},
		},
		{
			name: "extra stage sanitized and ordered last",
			session: func() domain.Session {
				s := *domain.NewSession("s")
				s.Stages["final-merge"] = map[string]any{}
				return s
			},
			contains: []string{
				`final_merge[["final-merge"]]`,
				"risk --> final_merge",
				"final_merge --> summary",
			},
		},
		{
			name: "running overlay",
			session: func() domain.Session {
				s := *domain.NewSession("s")
				s.State = domain.StateRunning
				s.Stages[domain.StageProduct] = map[string]any{}
				return s
			},
			overlay: true,
			contains: []string{
				"class start visited;",
				"class clarifier visited;",
				"class product visited;",
				"class product current;",
			},
			excludes: []string{"class customer visited;", "class failed failed;", `failed{{`},
		},
		{
			name: "failed overlay",
			session: func() domain.Session {
				s := *domain.NewSession("s")
				s.State = domain.StateFailed
				s.Questions = []domain.QA{{Question: "Q1"}}
				return s
			},
			overlay: true,
			contains: []string{
				`failed{{"failed"}}`,
				"clarifier -. ⚠ .-> failed",
				"class failed failed;",
			},
			excludes: []string{"current;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.session()
			var o *graph.Overlay
			if tt.overlay {
				o = graph.OverlayFor(s)
			}
			got := graph.GenerateMermaid(s, o)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, not := range tt.excludes {
				assert.False(t, strings.Contains(got, not), "unexpected %q in\n%s", not, got)
			}
		})
	}
}

func TestOverlayFor_States(t *testing.T) {
	s := *domain.NewSession("s")
	assert.Equal(t, "start", graph.OverlayFor(s).Current)

	s.State = domain.StateClarifying
	s.Questions = []domain.QA{{Question: "Q1"}}
	assert.Equal(t, domain.StepClarifier, graph.OverlayFor(s).Current)

	s.State = domain.StateComplete
	s.Questions[0].Answered = true
	s.Summary, s.HasSummary = "done", true
	o := graph.OverlayFor(s)
	assert.Equal(t, domain.StepSummary, o.Current)
	assert.Equal(t, []string{"start", domain.StepClarifier, domain.StepSummary}, o.Visited)
}
