package targets

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/uri"
)

// graph is one immutable snapshot of the workspace's build targets.
// A reload replaces the whole snapshot, never mutates it in place.
type graph struct {
	root string
	// nodes by target URI, plus the definition order for stable listings.
	nodes map[protocol.BuildTargetIdentifier]*node
	order []protocol.BuildTargetIdentifier
}

type node struct {
	def    targetDefinition
	target protocol.BuildTarget
	deps   []protocol.BuildTargetIdentifier
}

func emptyGraph() *graph {
	return &graph{nodes: map[protocol.BuildTargetIdentifier]*node{}}
}

// targetID derives the stable target URI from the workspace root and name.
func targetID(root, name string) protocol.BuildTargetIdentifier {
	return protocol.BuildTargetIdentifier{
		URI: uri.URI(string(uri.File(root)) + "?id=" + name),
	}
}

// buildGraph indexes the definition. A definition with unresolvable or cyclic
// dependencies yields an error; callers fall back to an empty graph so that
// listing targets reports none rather than failing.
func buildGraph(def *workspaceDefinition, root string) (*graph, error) {
	g := &graph{
		root:  root,
		nodes: make(map[protocol.BuildTargetIdentifier]*node, len(def.Targets)),
	}

	byName := make(map[string]targetDefinition, len(def.Targets))
	for _, td := range def.Targets {
		if td.Name == "" {
			return nil, fmt.Errorf("target with empty name in workspace definition")
		}
		if _, ok := byName[td.Name]; ok {
			return nil, fmt.Errorf("duplicate target %q in workspace definition", td.Name)
		}
		byName[td.Name] = td
	}

	for _, td := range def.Targets {
		id := targetID(root, td.Name)

		deps := make([]protocol.BuildTargetIdentifier, 0, len(td.Dependencies))
		for _, depName := range td.Dependencies {
			if _, ok := byName[depName]; !ok {
				return nil, fmt.Errorf("target %q depends on unknown target %q", td.Name, depName)
			}
			deps = append(deps, targetID(root, depName))
		}

		data, dataKind, err := platformData(td.Platform)
		if err != nil {
			return nil, err
		}

		g.nodes[id] = &node{
			def:  td,
			deps: deps,
			target: protocol.BuildTarget{
				ID:            id,
				DisplayName:   td.Name,
				BaseDirectory: uri.File(root),
				Tags:          td.Tags,
				LanguageIDs:   td.Languages,
				Dependencies:  deps,
				Capabilities:  protocol.BuildTargetCapabilities{CanCompile: true},
				DataKind:      dataKind,
				Data:          data,
			},
		}
		g.order = append(g.order, id)
	}

	// Reject cycles up front so every later closure walk terminates.
	for _, id := range g.order {
		if err := g.checkAcyclic(id); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func platformData(platform string) (json.RawMessage, string, error) {
	switch platform {
	case "", "jvm":
		data, err := json.Marshal(protocol.JvmBuildTarget{})
		return data, protocol.DataKindJvm, err
	case "js":
		data, err := json.Marshal(protocol.JsBuildTarget{})
		return data, protocol.DataKindJs, err
	case "native":
		data, err := json.Marshal(protocol.NativeBuildTarget{})
		return data, protocol.DataKindNative, err
	default:
		return nil, "", fmt.Errorf("unknown platform %q", platform)
	}
}

func (g *graph) checkAcyclic(start protocol.BuildTargetIdentifier) error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colors := map[protocol.BuildTargetIdentifier]int{}

	var visit func(id protocol.BuildTargetIdentifier) error
	visit = func(id protocol.BuildTargetIdentifier) error {
		switch colors[id] {
		case grey:
			return fmt.Errorf("dependency cycle through target %q", g.nodes[id].def.Name)
		case black:
			return nil
		}
		colors[id] = grey
		for _, dep := range g.nodes[id].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[id] = black
		return nil
	}
	return visit(start)
}

// closure returns the transitive dependencies of id in depth-first postorder,
// excluding id itself, with each dependency appearing exactly once.
func (g *graph) closure(id protocol.BuildTargetIdentifier) []*node {
	seen := map[protocol.BuildTargetIdentifier]bool{id: true}
	var out []*node

	var visit func(id protocol.BuildTargetIdentifier)
	visit = func(current protocol.BuildTargetIdentifier) {
		for _, dep := range g.nodes[current].deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			visit(dep)
			out = append(out, g.nodes[dep])
		}
	}
	visit(id)
	return out
}

func (g *graph) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(g.root, rel)
}
