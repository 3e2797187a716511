// Package pipeline offers a declarative alternative to wiring a task.Graph
// by hand in Go: an HCL document names steps, the handler each one runs,
// and its dependencies, and Build resolves that document against a
// Registry into a live *task.Graph.
package pipeline

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// StepDef is one `step` block: a named unit of work, the registry handler
// it runs (Uses), the kind of edge it attaches to each of its dependencies
// through (Edge: "then", the default, or "finally"), and the steps it
// depends on.
type StepDef struct {
	Name      string   `hcl:"name,label"`
	Uses      string   `hcl:"uses"`
	Edge      string   `hcl:"edge,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
}

// Document is the parsed, format-agnostic result of Parse.
type Document struct {
	Steps []StepDef
}

type fileRoot struct {
	Steps []StepDef `hcl:"step,block"`
}

// Parse decodes HCL source into a Document. filename is used only for
// diagnostic messages. An "edge" left unset on a step defaults to "then".
func Parse(src []byte, filename string) (*Document, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("pipeline: parse %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(f.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("pipeline: decode %s: %w", filename, diags)
	}

	for i := range root.Steps {
		switch root.Steps[i].Edge {
		case "":
			root.Steps[i].Edge = "then"
		case "then", "finally":
		default:
			return nil, fmt.Errorf("pipeline: step %q has invalid edge %q, want \"then\" or \"finally\"",
				root.Steps[i].Name, root.Steps[i].Edge)
		}
	}

	return &Document{Steps: root.Steps}, nil
}
