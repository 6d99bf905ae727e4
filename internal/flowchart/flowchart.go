// Package flowchart draws a project's dependency graph as a mermaid flowchart
// and exports it to stdout, a .mmd file, or an image rendered by kroki.
package flowchart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/jobhelper/internal/codec"
	"github.com/kingrea/jobhelper/internal/graph"
	"github.com/kingrea/jobhelper/internal/ledger"
	"github.com/kingrea/jobhelper/internal/project"
)

// Class styles a node.
type Class string

const (
	ClassNoRun     Class = "norun"
	ClassFailed    Class = "failed"
	ClassCompleted Class = "completed"
)

// DefaultKrokiURL is the public kroki instance.
const DefaultKrokiURL = "https://kroki.io"

var classDefs = []string{
	"classDef norun fill:#ddd,stroke:#aaa,stroke-width:3px,stroke-dasharray: 5 5",
	"classDef failed fill:#eaa,stroke:#e44",
	"classDef completed fill:#aea,stroke:#4a4",
}

var linkStyles = map[project.DependencyKind]string{
	project.DependencyAfter:      "--o",
	project.DependencyAfterAny:   "-.-o",
	project.DependencyAfterNotOK: "-.-x",
	project.DependencyAfterOK:    "-->",
}

// linkOrder is the order edges of one job are drawn in.
var linkOrder = []project.DependencyKind{
	project.DependencyAfterOK,
	project.DependencyAfter,
	project.DependencyAfterNotOK,
	project.DependencyAfterAny,
}

// Classify marks unselected jobs norun and colours the rest by their ledger
// status. A nil ledger leaves selected jobs unstyled.
func Classify(g *graph.Graph, selected []string, l *ledger.Ledger) map[string]Class {
	chosen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		chosen[name] = struct{}{}
	}
	classes := map[string]Class{}
	for _, name := range g.Names() {
		if _, ok := chosen[name]; !ok {
			classes[name] = ClassNoRun
			continue
		}
		if l == nil {
			continue
		}
		rec, ok := l.Get(name)
		if !ok {
			continue
		}
		switch rec.Status {
		case ledger.StatusFailed:
			classes[name] = ClassFailed
		case ledger.StatusSubmitted:
			classes[name] = ClassCompleted
		}
	}
	return classes
}

// Render returns the mermaid source for g. Jobs without edges are drawn as
// lone nodes.
func Render(g *graph.Graph, classes map[string]Class) string {
	node := func(name string) string {
		if class, ok := classes[name]; ok {
			return name + ":::" + string(class)
		}
		return name
	}
	lines := []string{"flowchart TD"}
	type edge struct{ from, to string }
	drawn := map[edge]struct{}{}
	for _, name := range g.Names() {
		deps := g.Dependencies(name)
		for _, kind := range linkOrder {
			for _, dep := range deps {
				if dep.Kind != kind {
					continue
				}
				e := edge{from: dep.Name, to: name}
				if _, ok := drawn[e]; ok {
					continue
				}
				drawn[e] = struct{}{}
				lines = append(lines, fmt.Sprintf("    %s %s %s", node(dep.Name), linkStyles[kind], node(name)))
			}
		}
		if len(deps) == 0 && len(g.Dependents(name)) == 0 {
			lines = append(lines, "    "+node(name))
		}
	}
	lines = append(lines, classDefs...)
	return strings.Join(lines, "\n")
}

// KrokiURL returns the public kroki URL rendering chart as png or svg.
func KrokiURL(chart, format string) (string, error) {
	return krokiURL(DefaultKrokiURL, chart, format)
}

func krokiURL(base, chart, format string) (string, error) {
	if format != "png" && format != "svg" {
		return "", fmt.Errorf("flowchart: unsupported image format %q", format)
	}
	packed, err := codec.PackURL([]byte(chart))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(base, "/") + "/mermaid/" + format + "/" + packed, nil
}

// Exporter writes a chart to its destination.
type Exporter struct {
	// Stdout receives the chart for output "-" and the kroki URL for images.
	Stdout io.Writer
	// Client downloads images; defaults to http.DefaultClient.
	Client *http.Client
	// KrokiURL overrides DefaultKrokiURL.
	KrokiURL string
}

// Export writes chart to output: "-" prints it, .mmd saves the source and
// .png or .svg downloads the rendered image.
func (e Exporter) Export(ctx context.Context, chart, output string) error {
	stdout := e.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if output == "" || output == "-" {
		_, err := fmt.Fprintln(stdout, chart)
		return err
	}
	ext := strings.ToLower(filepath.Ext(output))
	switch ext {
	case ".mmd":
		if err := os.WriteFile(output, []byte(chart+"\n"), 0o644); err != nil {
			return fmt.Errorf("flowchart: write %s: %w", output, err)
		}
		return nil
	case ".png", ".svg":
	default:
		return fmt.Errorf("flowchart: unsupported output format %q", ext)
	}

	base := e.KrokiURL
	if base == "" {
		base = DefaultKrokiURL
	}
	url, err := krokiURL(base, chart, strings.TrimPrefix(ext, "."))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, url)
	return e.download(ctx, url, output)
}

func (e Exporter) download(ctx context.Context, url, output string) error {
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("flowchart: %w", err)
	}
	req.Header.Set("User-Agent", "jh")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("flowchart: fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flowchart: kroki returned %s", resp.Status)
	}
	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("flowchart: create %s: %w", output, err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return fmt.Errorf("flowchart: write %s: %w", output, err)
	}
	return file.Close()
}
