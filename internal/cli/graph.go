package cli

import (
	"github.com/aretw0/prdflow/internal/presentation/graph"
	"github.com/aretw0/prdflow/pkg/domain"
)

// RenderGraph returns the Mermaid pipeline graph. With a snapshot path the
// run's progress is overlaid.
func RenderGraph(snapshotPath string) (string, error) {
	if snapshotPath == "" {
		return graph.GenerateMermaid(*domain.NewSession(""), nil), nil
	}
	snap, err := LoadSnapshot(snapshotPath)
	if err != nil {
		return "", err
	}
	return graph.GenerateMermaid(snap, graph.OverlayFor(snap)), nil
}
