package ir

import (
	"sync"

	"github.com/pkg/errors"
)

// FunctionContent is the body of one MuFunctionVersion: an ordered
// collection of Blocks keyed by id, with the entry block distinguished
// (spec §3 "FunctionContent: an ordered collection of Blocks").
type FunctionContent struct {
	Entry  *Block
	Blocks []*Block // includes Entry, in declaration order
}

// NewFunctionContent constructs a FunctionContent whose first appended
// block becomes the entry block.
func NewFunctionContent() *FunctionContent {
	return &FunctionContent{}
}

// AddBlock appends b to the content, making it the entry block if this is
// the first block added.
func (fc *FunctionContent) AddBlock(b *Block) {
	if fc.Entry == nil {
		fc.Entry = b
	}
	fc.Blocks = append(fc.Blocks, b)
}

// BlockByID looks up a block by id; O(n) is acceptable here since block
// counts per function are small and lookups are pass-setup-time only.
func (fc *FunctionContent) BlockByID(id ID) (*Block, bool) {
	for _, b := range fc.Blocks {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// MuFunctionVersion is one compilable snapshot of a Mu function (spec §3).
// Per the invariant "a function version is immutable in its externally
// observable IR shape after compilation begins", passes must only mutate
// the auxiliary fields below (LiveIn/LiveOut, CFA bookkeeping, etc.), never
// renumber SSA ids or reorder Blocks/Nodes once compilation has started.
type MuFunctionVersion struct {
	EntityHeader

	SigID   ID
	Content *FunctionContent

	// compiling becomes true once VM.Compile calls BeginCompiling, before
	// the pipeline driver (component I) runs passes over this version,
	// latching the immutability invariant.
	compiling bool

	// mu is the per-version write-lock the pipeline driver holds for the
	// duration of one compile (spec §5 "write-lock only on the target
	// function version"), serializing concurrent recompiles of the same
	// version without blocking compiles of unrelated versions.
	mu sync.Mutex
}

// Lock acquires the version's compile lock. The pipeline driver holds this
// across the whole pass sequence for one compile.
func (v *MuFunctionVersion) Lock() { v.mu.Lock() }

// Unlock releases the version's compile lock.
func (v *MuFunctionVersion) Unlock() { v.mu.Unlock() }

// NewMuFunctionVersion constructs a version over sigID with empty content.
func NewMuFunctionVersion(name string, sigID ID) *MuFunctionVersion {
	return &MuFunctionVersion{EntityHeader: NewEntityHeader(name), SigID: sigID, Content: NewFunctionContent()}
}

// BeginCompiling latches the version as under compilation; subsequent
// calls to AddBlock-equivalent mutation helpers outside internal passes
// should check IsCompiling and refuse structural edits.
func (v *MuFunctionVersion) BeginCompiling() { v.compiling = true }

// IsCompiling reports whether BeginCompiling has been called.
func (v *MuFunctionVersion) IsCompiling() bool { return v.compiling }

// MuFunction is the top-level function entity: an id, a shared signature,
// and a history of versions (spec §3 "Function hierarchy").
type MuFunction struct {
	EntityHeader

	SigID          ID
	CurrentVersion ID
	Versions       []*MuFunctionVersion
}

// NewMuFunction constructs a MuFunction with no versions yet.
func NewMuFunction(name string, sigID ID) *MuFunction {
	return &MuFunction{EntityHeader: NewEntityHeader(name), SigID: sigID}
}

// AddVersion appends v and makes it current, replacing any prior current
// version atomically from the caller's point of view (spec §3 "Compiled
// functions ... replaced atomically on recompilation").
func (f *MuFunction) AddVersion(v *MuFunctionVersion) error {
	if v.SigID != f.SigID {
		return errors.Errorf("ir: version %d signature %d does not match function %d signature %d",
			v.ID(), v.SigID, f.ID(), f.SigID)
	}
	f.Versions = append(f.Versions, v)
	f.CurrentVersion = v.ID()
	return nil
}

// VersionByID returns the version registered under id, or ok=false.
func (f *MuFunction) VersionByID(id ID) (*MuFunctionVersion, bool) {
	for _, v := range f.Versions {
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}
