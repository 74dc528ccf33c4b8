// Package astdoc implements the AST Decoder (spec component C1): parsing and
// shape-checking the JSON program-AST document into a typed in-memory form.
//
// Unlike a conventional compiler frontend, x07c never tokenizes or parses
// surface syntax — every program arrives pre-parsed as a JSON document, so
// this package's job is closer to strict schema validation than to lexing.
package astdoc

import "fmt"

// SupportedSchemaVersions enumerates the schema_version strings x07c accepts. Kept as
// an explicit allowlist (not a range check) so unsupported versions fail
// with a precise, literal list — spec §4.1 requires this.
var SupportedSchemaVersions = []string{"x07ast/0.4.0", "x07ast/0.5.0"}

// AstKind distinguishes an entry file (carries `solve`) from a module file
// (carries `exports`).
type AstKind string

const (
	KindEntry  AstKind = "entry"
	KindModule AstKind = "module"
)

// Ty is the closed monomorphic type universe (spec §3). The set is fixed: no
// pass may introduce a type outside it, which is what makes monomorphization
// (C6) a finite rewrite.
type Ty int

const (
	TyI32 Ty = iota
	TyBytes
	TyBytesView
	TyVecU8
	TyOptionI32
	TyOptionBytes
	TyOptionBytesView
	TyResultI32
	TyResultBytes
	TyResultBytesView
	TyResultResultBytes
	TyIface
	TyPtrConstU8
	TyPtrMutU8
	TyPtrConstVoid
	TyPtrMutVoid
	TyPtrConstI32
	TyPtrMutI32
	TyNever
)

var tyNames = map[Ty]string{
	TyI32:               "i32",
	TyBytes:             "bytes",
	TyBytesView:         "bytes_view",
	TyVecU8:             "vec_u8",
	TyOptionI32:         "option_i32",
	TyOptionBytes:       "option_bytes",
	TyOptionBytesView:   "option_bytes_view",
	TyResultI32:         "result_i32",
	TyResultBytes:       "result_bytes",
	TyResultBytesView:   "result_bytes_view",
	TyResultResultBytes: "result_result_bytes",
	TyIface:             "iface",
	TyPtrConstU8:        "ptr_const_u8",
	TyPtrMutU8:          "ptr_mut_u8",
	TyPtrConstVoid:      "ptr_const_void",
	TyPtrMutVoid:        "ptr_mut_void",
	TyPtrConstI32:       "ptr_const_i32",
	TyPtrMutI32:         "ptr_mut_i32",
	TyNever:             "never",
}

var namesToTy = func() map[string]Ty {
	m := make(map[string]Ty, len(tyNames))
	for ty, name := range tyNames {
		m[name] = ty
	}
	return m
}()

// String returns the canonical x07AST name for a monomorphic type.
func (t Ty) String() string {
	if name, ok := tyNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Ty(%d)", int(t))
}

// ParseNamedTy looks up a monomorphic type by its canonical string name.
func ParseNamedTy(name string) (Ty, bool) {
	ty, ok := namesToTy[name]
	return ty, ok
}

// BytesLike reports whether a type may carry a Brand (spec §3: brands
// attach only to bytes-like types).
func (t Ty) BytesLike() bool {
	switch t {
	case TyBytes, TyBytesView, TyOptionBytes, TyOptionBytesView,
		TyResultBytes, TyResultBytesView, TyResultResultBytes:
		return true
	default:
		return false
	}
}

// TypeRef is the sum type for a type reference as it appears in the JSON AST
// (spec §3): a concrete name, a type variable, or a type application.
type TypeRef struct {
	Named string     // set when this is a concrete Named(s) reference
	Var   string      // set when this is a Var(s) type-variable reference
	Head  string      // set when this is an App{head, args}
	Args  []*TypeRef  // App's arguments
}

// IsNamed, IsVar, IsApp discriminate the TypeRef sum.
func (t *TypeRef) IsNamed() bool { return t != nil && t.Named != "" }
func (t *TypeRef) IsVar() bool   { return t != nil && t.Var != "" }
func (t *TypeRef) IsApp() bool   { return t != nil && t.Head != "" }

// AsMonoTy best-effort lowers a TypeRef to the closed monomorphic universe.
// Returns false for variables and unrecognized applications — those are
// resolved later, by monomorphization (C6) substituting concrete type
// arguments before this is called again.
func (t *TypeRef) AsMonoTy() (Ty, bool) {
	if t == nil {
		return 0, false
	}
	if t.IsNamed() {
		return ParseNamedTy(t.Named)
	}
	if t.IsApp() && len(t.Args) == 1 {
		inner, ok := t.Args[0].AsMonoTy()
		if !ok {
			return 0, false
		}
		switch t.Head {
		case "option":
			switch inner {
			case TyI32:
				return TyOptionI32, true
			case TyBytes:
				return TyOptionBytes, true
			case TyBytesView:
				return TyOptionBytesView, true
			}
		case "result":
			switch inner {
			case TyI32:
				return TyResultI32, true
			case TyBytes:
				return TyResultBytes, true
			case TyBytesView:
				return TyResultBytesView, true
			case TyResultBytes:
				return TyResultResultBytes, true
			}
		}
	}
	return 0, false
}

// Brand is an optional compile-time tag attachable only to bytes-like types.
type Brand struct {
	Name string
}

// Pointer is an RFC-6901 JSON pointer identifying a node's source location,
// carried by every Expr and by Decls for diagnostics (spec §3).
type Pointer string

// Expr is the sum type for program expressions (spec §3): integer literal,
// identifier, or an s-expression-shaped list headed by an atom.
type Expr struct {
	Pointer Pointer

	// Exactly one of the following is populated.
	IsInt  bool
	Int    int32
	IsIdent bool
	Ident  string
	IsList bool
	Head   string
	Args   []*Expr

	// LiteralPayload/HasLiteral carry the verbatim literal payload for the
	// "bytes.lit"/"bytes.view_lit" heads (spec §4.1: payload preserved
	// verbatim rather than re-encoded).
	LiteralPayload []byte
	HasLiteral     bool
}

// Param is a function parameter: a name, a type, and an optional brand.
type Param struct {
	Name  string
	Type  *TypeRef
	Brand *Brand
}

// TypeParam is a declared generic type parameter.
type TypeParam struct {
	Name  string
	Bound string // optional trait-like bound, currently unused by the core
}

// DeclKind discriminates the Decl tagged union.
type DeclKind int

const (
	DeclExport DeclKind = iota
	DeclExtern
	DeclDefn
	DeclDefAsync
)

// Decl is the tagged union for a top-level declaration (spec §3).
type Decl struct {
	Kind    DeclKind
	Pointer Pointer

	// Export
	Names []string

	// Extern
	ABI        string
	Name       string
	LinkName   string
	Params     []Param
	Result     *TypeRef
	ResultBrand *Brand

	// Defn / DefAsync (Name/Params/Result shared with Extern above)
	TypeParams []TypeParam
	Body       *Expr
	Requires   []*Expr
	Ensures    []*Expr
	Invariant  []*Expr
}

// QualifiedName returns "module.Name" for Extern/Defn/DefAsync decls.
func (d *Decl) QualifiedName(moduleID string) string {
	return moduleID + "." + d.Name
}

// AstFile is the decoded, validated top-level document (spec §3).
type AstFile struct {
	SchemaVersion string
	AstKind       AstKind
	ModuleID      string
	Imports       []string // sorted, deduplicated
	Decls         []*Decl
	Solve         *Expr    // entry only
	Exports       []string // module only; derived from the `export` decl
	Meta          map[string]any
}
