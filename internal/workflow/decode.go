package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blocksrun/blocks/internal/errors"
)

// Load reads and parses a workflow file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrWorkflow,
			fmt.Sprintf("cannot read workflow file %q", path),
			"check that the path exists and is readable")
	}
	return Parse(data)
}

// Parse parses workflow YAML.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrWorkflow,
			"workflow file is not valid YAML",
			"fix the YAML syntax and re-run")
	}
	return &wf, nil
}

// UnmarshalYAML decodes a block, dispatching on which control key the mapping
// carries. Key presence decides the shape, so `run: ""` is still a command
// block and a mapping with none of the control keys decodes as unknown.
func (b *Block) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: block must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "name":
			if err := val.Decode(&b.Name); err != nil {
				return err
			}
		case "description":
			if err := val.Decode(&b.Description); err != nil {
				return err
			}
		case "run":
			if err := val.Decode(&b.Run); err != nil {
				return err
			}
			b.hasRun = true
		case "run-remotely":
			b.Remote = &RemoteSpec{}
			if err := val.Decode(b.Remote); err != nil {
				return err
			}
		case "for":
			b.Loop = &LoopSpec{}
			if err := val.Decode(b.Loop); err != nil {
				return err
			}
		case "parallel":
			b.Parallel = &ParallelSpec{}
			if err := val.Decode(b.Parallel); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnmarshalYAML accepts either a block list or a for mapping. Any other shape
// is recorded as invalid rather than failing the whole document, so the
// runner can report it as a single failed block.
func (p *ParallelSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&p.Blocks)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "for" {
				p.Loop = &LoopSpec{}
				return node.Content[i+1].Decode(p.Loop)
			}
		}
	}
	p.Invalid = true
	return nil
}
