package targets

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// workspaceDefinition is the on-disk YAML shape of a workspace.
type workspaceDefinition struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Targets []targetDefinition `yaml:"targets"`
}

// targetDefinition declares one build target in the workspace definition.
// Paths are relative to the definition file's directory.
type targetDefinition struct {
	Name                string               `yaml:"name"`
	Platform            string               `yaml:"platform"`
	Languages           []string             `yaml:"languages"`
	Dependencies        []string             `yaml:"dependencies"`
	SourceDirs          []string             `yaml:"sourceDirs"`
	GeneratedSourceDirs []string             `yaml:"generatedSourceDirs"`
	ClassDirectory      string               `yaml:"classDirectory"`
	Options             []string             `yaml:"options"`
	Artifacts           []artifactDefinition `yaml:"artifacts"`
	Tags                []string             `yaml:"tags"`
}

// artifactDefinition is one resolved external artifact of a target.
// Classifier "sources" marks a sources artifact; anything else is binary.
type artifactDefinition struct {
	Location   string `yaml:"location"`
	Classifier string `yaml:"classifier"`
}

const _classifierSources = "sources"

func loadDefinition(path string) (*workspaceDefinition, string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading workspace definition: %w", err)
	}

	var def workspaceDefinition
	if err := yaml.Unmarshal(contents, &def); err != nil {
		return nil, "", fmt.Errorf("parsing workspace definition: %w", err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, "", fmt.Errorf("resolving workspace root: %w", err)
	}
	return &def, root, nil
}
