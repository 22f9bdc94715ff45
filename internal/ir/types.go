package ir

// TypeKind enumerates the Mu type sum (spec §3 "Types"), grounded on the
// teacher's TypeKind enum (std/compiler/ir.go: TY_VOID, TY_INT32, ...)
// generalized to the Mu IR's richer pointer/reference/handle vocabulary.
type TypeKind int

const (
	KindVoid TypeKind = iota
	KindInt           // arbitrary bit width, see Type.BitWidth
	KindFloat32
	KindFloat64
	KindUPtr   // untraced pointer
	KindRef    // traced managed reference
	KindIRef   // internal reference (interior pointer into a traced object)
	KindWeakRef
	KindFuncPtr
	KindFuncRef
	KindStruct
	KindHybrid // fixed prefix + variable tail
	KindArray
	KindVector
	KindHandleThread
	KindHandleStack
	KindHandleFrameCursor
)

// Type is a Mu IR type: a tagged union carrying only the payload fields
// relevant to Kind, per spec §3 "Each carries a minimal payload".
type Type struct {
	EntityHeader

	Kind TypeKind

	BitWidth int // KindInt
	Elem     *Type // KindUPtr/Ref/IRef/WeakRef/Array/Vector/Hybrid element
	Fields   []*Type // KindStruct/Hybrid fixed prefix
	Length   int     // KindArray/Vector element count
	SigID    ID      // KindFuncPtr/KindFuncRef
}

// NewIntType constructs an integer type of the given bit width.
func NewIntType(name string, bitWidth int) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: KindInt, BitWidth: bitWidth}
}

// NewFloatType constructs a single or double float type.
func NewFloatType(name string, double bool) *Type {
	k := KindFloat32
	if double {
		k = KindFloat64
	}
	return &Type{EntityHeader: NewEntityHeader(name), Kind: k}
}

// NewPointerType constructs a UPtr/Ref/IRef/WeakRef type over elem.
func NewPointerType(name string, kind TypeKind, elem *Type) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: kind, Elem: elem}
}

// NewStructType constructs a struct type from ordered fields.
func NewStructType(name string, fields []*Type) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: KindStruct, Fields: fields}
}

// NewHybridType constructs a hybrid type: fixed prefix fields plus a
// variable tail of elem.
func NewHybridType(name string, fields []*Type, elem *Type) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: KindHybrid, Fields: fields, Elem: elem}
}

// NewArrayType constructs a fixed-length array type.
func NewArrayType(name string, elem *Type, length int) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: KindArray, Elem: elem, Length: length}
}

// NewVectorType constructs a SIMD vector type.
func NewVectorType(name string, elem *Type, length int) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: KindVector, Elem: elem, Length: length}
}

// NewFuncType constructs a function pointer/reference type over sigID.
func NewFuncType(name string, kind TypeKind, sigID ID) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: kind, SigID: sigID}
}

// NewHandleType constructs an opaque thread/stack/frame-cursor handle type.
func NewHandleType(name string, kind TypeKind) *Type {
	return &Type{EntityHeader: NewEntityHeader(name), Kind: kind}
}

// IsTraced reports whether values of this type may hold references the GC
// must trace (Ref/IRef/WeakRef/FuncRef, or aggregates containing them).
func (t *Type) IsTraced() bool {
	switch t.Kind {
	case KindRef, KindIRef, KindWeakRef, KindFuncRef:
		return true
	case KindStruct, KindHybrid:
		for _, f := range t.Fields {
			if f.IsTraced() {
				return true
			}
		}
		if t.Kind == KindHybrid && t.Elem != nil {
			return t.Elem.IsTraced()
		}
		return false
	case KindArray, KindVector:
		return t.Elem != nil && t.Elem.IsTraced()
	default:
		return false
	}
}

// Signature is a shared-ownership function signature (spec §3 "Shared IR
// components"): param and result types.
type Signature struct {
	EntityHeader
	Params  []*Type
	Results []*Type
}

// NewSignature constructs a Signature from ordered params and results.
func NewSignature(name string, params, results []*Type) *Signature {
	return &Signature{EntityHeader: NewEntityHeader(name), Params: params, Results: results}
}

// Constant is a shared-ownership constant value (spec §3).
type Constant struct {
	EntityHeader
	Type *Type
	// Exactly one of the following is meaningful, selected by Type.Kind.
	IntVal   int64
	FloatVal float64
}

// NewIntConstant constructs an integer constant of the given type.
func NewIntConstant(name string, t *Type, v int64) *Constant {
	return &Constant{EntityHeader: NewEntityHeader(name), Type: t, IntVal: v}
}

// NewFloatConstant constructs a float constant of the given type.
func NewFloatConstant(name string, t *Type, v float64) *Constant {
	return &Constant{EntityHeader: NewEntityHeader(name), Type: t, FloatVal: v}
}

// GlobalCell is a mutable memory cell owned by the VM context, referenced
// by id from IR (spec §3 "Heap entities" / §4.14 registries).
type GlobalCell struct {
	EntityHeader
	Type *Type
}

// NewGlobalCell constructs a GlobalCell of the given type.
func NewGlobalCell(name string, t *Type) *GlobalCell {
	return &GlobalCell{EntityHeader: NewEntityHeader(name), Type: t}
}
