// Package workflow defines the block data model and decodes workflow YAML
// documents into it.
//
// A workflow is an ordered list of blocks. Each block is one of four shapes,
// recognized by which key is present: run (local command), run-remotely
// (SSH command), for (loop), or parallel (concurrent group). Anything else
// decodes to an unknown block, which the runner warns about and skips.
package workflow

// Kind identifies the shape of a block.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommand
	KindRemote
	KindLoop
	KindParallel
)

// String returns the workflow-document key for the kind.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "run"
	case KindRemote:
		return "run-remotely"
	case KindLoop:
		return "for"
	case KindParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Block is the tagged union over the recognized block shapes. Exactly one of
// Run/Remote/Loop/Parallel is meaningful, selected by Kind().
type Block struct {
	Name        string
	Description string

	Run      string
	Remote   *RemoteSpec
	Loop     *LoopSpec
	Parallel *ParallelSpec

	hasRun bool
}

// Command creates a local command block. Loop expansion builds its output
// blocks through this and the other constructors.
func Command(run string) Block {
	return Block{Run: run, hasRun: true}
}

// RemoteBlock creates a remote command block.
func RemoteBlock(spec RemoteSpec) Block {
	return Block{Remote: &spec}
}

// Kind reports which shape this block has.
func (b *Block) Kind() Kind {
	switch {
	case b.Remote != nil:
		return KindRemote
	case b.Loop != nil:
		return KindLoop
	case b.Parallel != nil:
		return KindParallel
	case b.hasRun:
		return KindCommand
	default:
		return KindUnknown
	}
}

// RemoteSpec holds the connection and command details of a run-remotely block.
type RemoteSpec struct {
	Host     string `yaml:"ip"`
	User     string `yaml:"user"`
	Password string `yaml:"pass"`
	Run      string `yaml:"run"`
	LogFile  string `yaml:"log-into"`
}

// LoopSpec describes a for block: iterate Var over the list referenced by In,
// expanding either the inline template fields (Run/Name/Description/Remote),
// the Blocks templates, or the nested Loop.
type LoopSpec struct {
	Var string `yaml:"individual"`
	In  string `yaml:"in"`

	Run         string      `yaml:"run"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Remote      *RemoteSpec `yaml:"run-remotely"`

	Blocks []Block   `yaml:"blocks"`
	Loop   *LoopSpec `yaml:"for"`
}

// ParallelSpec is either a literal list of blocks or a loop that expands to
// one. Invalid marks a parallel value that is neither; the runner reports it
// as a failed block without aborting the workflow.
type ParallelSpec struct {
	Blocks  []Block
	Loop    *LoopSpec
	Invalid bool
}

// Workflow is a parsed workflow document.
type Workflow struct {
	Blocks []Block `yaml:"blocks"`
}
