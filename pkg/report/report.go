// Package report folds a session snapshot into a human-readable markdown
// report. Rendering is pure: the same snapshot always yields the same bytes.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/prdflow/pkg/domain"
)

const (
	notAvailable = "_Not available_"
	notAnswered  = "Not answered"
	na           = "N/A"
)

// stageSpec describes how a canonical stage is rendered.
type stageSpec struct {
	title  string
	render func(b *strings.Builder, p map[string]any) []string // returns keys it consumed
}

var canonical = map[string]stageSpec{
	domain.StageProduct:  {"Product Analysis", renderProduct},
	domain.StageCustomer: {"Customer Analysis", renderCustomer},
	domain.StageEngineer: {"Engineering Analysis", renderEngineer},
	domain.StageRisk:     {"Risk Analysis", renderRisk},
}

// Render produces the full report: clarification answers, one block per
// canonical stage (with a placeholder when absent), any other stages, and
// the overall summary last.
func Render(s domain.Session) string {
	var b strings.Builder

	b.WriteString("## Clarifier Questions & Answers\n\n")
	if len(s.Questions) == 0 {
		b.WriteString(notAvailable + "\n\n")
	}
	for _, q := range s.Questions {
		answer := q.Answer
		if !q.Answered || strings.TrimSpace(answer) == "" {
			answer = notAnswered
		}
		fmt.Fprintf(&b, "**Question:** %s\n**Answer:** %s\n\n", q.Question, answer)
	}

	for _, name := range domain.CanonicalStages() {
		spec := canonical[name]
		fmt.Fprintf(&b, "## %s\n\n", spec.title)
		payload, ok := s.Stages[name]
		if !ok {
			b.WriteString(notAvailable + "\n\n")
			continue
		}
		payload = flatten(name, payload)
		used := spec.render(&b, payload)
		writeExtras(&b, payload, used)
		b.WriteString("\n")
	}

	var extra []string
	for name := range s.Stages {
		if !domain.IsCanonicalStage(name) {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		b.WriteString("## Additional Stages\n\n")
		for _, name := range extra {
			fmt.Fprintf(&b, "### %s\n\n", name)
			payload := s.Stages[name]
			if len(payload) == 0 {
				b.WriteString(notAvailable + "\n\n")
				continue
			}
			writeExtras(&b, payload, nil)
			b.WriteString("\n")
		}
	}

	b.WriteString("## Overall Summary\n\n")
	if s.HasSummary && strings.TrimSpace(s.Summary) != "" {
		b.WriteString(strings.TrimSpace(s.Summary))
		b.WriteString("\n")
	} else {
		b.WriteString(notAvailable + "\n")
	}
	return b.String()
}

// flatten lifts a payload nested under the stage's own name
// ({"product": {...}, "diagram_url": ...}) to the top level.
func flatten(name string, p map[string]any) map[string]any {
	inner, ok := p[name].(map[string]any)
	if !ok {
		return p
	}
	out := make(map[string]any, len(p)+len(inner))
	for k, v := range p {
		if k != name {
			out[k] = v
		}
	}
	for k, v := range inner {
		out[k] = v
	}
	return out
}

func renderProduct(b *strings.Builder, p map[string]any) []string {
	fmt.Fprintf(b, "**Name:** %s\n\n", scalar(p["name"]))
	writeList(b, "Features", p["features"], "No features specified")
	return []string{"name", "features"}
}

func renderCustomer(b *strings.Builder, p map[string]any) []string {
	fmt.Fprintf(b, "**Segment:** %s\n\n", scalar(p["segment"]))
	writeList(b, "Needs", p["needs"], "No needs specified")
	return []string{"segment", "needs"}
}

func renderEngineer(b *strings.Builder, p map[string]any) []string {
	fmt.Fprintf(b, "**Feasibility:** %s\n", scalar(p["feasibility"]))
	fmt.Fprintf(b, "**Timeline:** %s\n", scalar(p["timeline"]))
	if items := list(p["tech_stack"]); len(items) > 0 {
		fmt.Fprintf(b, "**Tech Stack:** %s\n", strings.Join(items, ", "))
	}
	return []string{"feasibility", "timeline", "tech_stack"}
}

func renderRisk(b *strings.Builder, p map[string]any) []string {
	fmt.Fprintf(b, "**Risk Level:** %s\n\n", scalar(p["level"]))
	writeList(b, "Mitigations", p["mitigations"], "No mitigations specified")
	return []string{"level", "mitigations"}
}

func writeList(b *strings.Builder, title string, v any, empty string) {
	fmt.Fprintf(b, "**%s:**\n", title)
	items := list(v)
	if len(items) == 0 {
		fmt.Fprintf(b, "- %s\n", empty)
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// writeExtras renders every key not in used as a sorted bullet.
func writeExtras(b *strings.Builder, p map[string]any, used []string) {
	skip := make(map[string]bool, len(used))
	for _, k := range used {
		skip[k] = true
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	if len(used) > 0 {
		b.WriteString("\n")
	}
	for _, k := range keys {
		fmt.Fprintf(b, "- **%s:** %s\n", k, inline(p[k]))
	}
}

func scalar(v any) string {
	if v == nil {
		return na
	}
	s := inline(v)
	if strings.TrimSpace(s) == "" {
		return na
	}
	return s
}

func list(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(inline(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func inline(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		return strings.Join(list(t), ", ")
	case map[string]any:
		// encoding/json sorts map keys.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

type step struct {
	name string
	done bool
}

// Progress renders a one-line checklist of the workflow steps.
func Progress(s domain.Session) string {
	steps := []step{{domain.StepClarifier, clarified(s)}}
	for _, name := range domain.CanonicalStages() {
		_, ok := s.Stages[name]
		steps = append(steps, step{name, ok})
	}
	steps = append(steps, step{domain.StepSummary, s.HasSummary})

	parts := make([]string, 0, len(steps))
	for _, st := range steps {
		mark := " "
		if st.done {
			mark = "x"
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", mark, st.name))
	}
	return fmt.Sprintf("%s  (%s)", strings.Join(parts, "  "), s.State)
}

func clarified(s domain.Session) bool {
	switch s.State {
	case domain.StateRunning, domain.StateComplete:
		return true
	}
	return len(s.Questions) > 0 && len(s.Pending()) == 0
}
