package ir

// ValueKind distinguishes the four Value variants a TreeNode's Value case
// may be (spec §3 "a tree node is either a Value ... or an Instruction").
type ValueKind int

const (
	ValueConstant ValueKind = iota
	ValueGlobal
	ValueParam
	ValueSSAResult
)

// Value is a use-site operand: a constant, a global reference, an
// incoming parameter, or the SSA result of some Instruction within the
// same function version.
type Value struct {
	EntityHeader
	Kind ValueKind
	Type *Type

	Constant *Constant   // ValueConstant
	Global   *GlobalCell // ValueGlobal
	ParamIdx int         // ValueParam

	// Def is the Instruction defining this value, set iff Kind ==
	// ValueSSAResult. Spec §3 invariant: "every SSA value has exactly one
	// defining instruction within a version."
	Def *Instruction
}

// NewConstantValue wraps a Constant as a use-site Value.
func NewConstantValue(c *Constant) *Value {
	return &Value{EntityHeader: NewEntityHeader(""), Kind: ValueConstant, Type: c.Type, Constant: c}
}

// NewGlobalValue wraps a GlobalCell as a use-site Value (an IRef to the cell).
func NewGlobalValue(g *GlobalCell) *Value {
	return &Value{EntityHeader: NewEntityHeader(""), Kind: ValueGlobal, Type: g.Type, Global: g}
}

// NewParamValue constructs the Value representing the idx'th incoming
// parameter, typed per sig.
func NewParamValue(sig *Signature, idx int) *Value {
	return &Value{EntityHeader: NewEntityHeader(""), Kind: ValueParam, Type: sig.Params[idx], ParamIdx: idx}
}

// NewSSAValue constructs the Value representing def's result, typed t.
func NewSSAValue(def *Instruction, t *Type) *Value {
	return &Value{EntityHeader: NewEntityHeader(""), Kind: ValueSSAResult, Type: t, Def: def}
}
