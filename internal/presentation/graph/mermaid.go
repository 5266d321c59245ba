// Package graph draws the workflow pipeline as a Mermaid flowchart.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/prdflow/pkg/domain"
)

type node struct {
	id   string
	kind string // start, input, stage, end
}

// Overlay marks the progress of one run on the graph.
type Overlay struct {
	Visited []string
	Current string
	Failed  bool
}

// OverlayFor derives the overlay of a session snapshot.
func OverlayFor(s domain.Session) *Overlay {
	o := &Overlay{Visited: []string{"start"}}
	clarified := s.State == domain.StateRunning || s.State == domain.StateComplete ||
		(len(s.Questions) > 0 && len(s.Pending()) == 0)
	if len(s.Questions) > 0 || clarified {
		o.Visited = append(o.Visited, domain.StepClarifier)
	}
	for _, name := range stageOrder(s) {
		if _, ok := s.Stages[name]; ok {
			o.Visited = append(o.Visited, name)
		}
	}
	if s.HasSummary {
		o.Visited = append(o.Visited, domain.StepSummary)
	}

	switch s.State {
	case domain.StateStarting:
		o.Current = "start"
	case domain.StateClarifying:
		o.Current = domain.StepClarifier
	case domain.StateFailed:
		o.Failed = true
		o.Current = o.Visited[len(o.Visited)-1]
	default:
		o.Current = o.Visited[len(o.Visited)-1]
	}
	return o
}

// stageOrder is the canonical stages followed by any extra stage the
// session received, sorted by name.
func stageOrder(s domain.Session) []string {
	order := domain.CanonicalStages()
	var extra []string
	for name := range s.Stages {
		if !domain.IsCanonicalStage(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// GenerateMermaid produces the flowchart of the pipeline for s. Shapes:
// start and summary are circles, the clarifier a parallelogram (user input)
// and stages subroutines. When overlay is non-nil visited and current nodes
// are styled and a failed run gets a failure node.
func GenerateMermaid(s domain.Session, overlay *Overlay) string {
	nodes := []node{{"start", "start"}, {domain.StepClarifier, "input"}}
	for _, name := range stageOrder(s) {
		nodes = append(nodes, node{name, "stage"})
	}
	nodes = append(nodes, node{domain.StepSummary, "end"})

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, n := range nodes {
		opener, closer := "[", "]"
		switch n.kind {
		case "start", "end":
			opener, closer = "((", "))"
		case "stage":
			opener, closer = "[[", "]]"
		case "input":
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(n.id), opener, n.id, closer)
	}
	for i := 0; i+1 < len(nodes); i++ {
		fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(nodes[i].id), sanitizeMermaidID(nodes[i+1].id))
	}

	if overlay == nil {
		return sb.String()
	}
	if overlay.Failed {
		fmt.Fprintf(&sb, "    failed{{\"failed\"}}\n")
		fmt.Fprintf(&sb, "    %s -. ⚠ .-> failed\n", sanitizeMermaidID(overlay.Current))
	}

	sb.WriteString("\n    %% Overlay Styles\n")
	// Black text keeps contrast on light fills whatever the theme.
	sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:4px,color:#000;\n")

	seen := make(map[string]bool)
	for _, id := range overlay.Visited {
		safeID := sanitizeMermaidID(id)
		if !seen[safeID] && safeID != "" {
			seen[safeID] = true
			fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
		}
	}
	if overlay.Failed {
		sb.WriteString("    class failed failed;\n")
	} else if overlay.Current != "" {
		fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
	}
	return sb.String()
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(id)
}
