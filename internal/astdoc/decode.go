package astdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sunholo/x07c/internal/errors"
)

// DefaultMaxBytes is the byte cap Decode applies to an input AST document
// when its maxBytes argument is zero or negative; callers set a different
// cap through pipeline.Config.MaxSourceBytes.
const DefaultMaxBytes = 8 << 20 // 8 MiB

// moduleIDPattern matches a dotted lowercase identifier: "std.os.fs",
// "main", "myapp.util". Segments are ASCII lowercase + digits + underscore.
var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// symbolPattern is the restricted identifier grammar for exports, params,
// and function names: one or more dot-separated segments of ASCII letters,
// digits, and underscores, so fully-qualified names such as "m.f" pass; no
// whitespace, no shell metacharacters (spec §4.1).
var symbolPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// bomUTF8 is the UTF-8 byte-order mark normalizeInput strips before decode.
var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// normalizeInput strips a leading UTF-8 BOM and NFC-normalizes the document
// bytes, mirroring the teacher's internal/lexer.Normalize preprocessing at
// its own input boundary. Applied to the whole document rather than just
// extracted identifiers, this changes real outcomes: a document saved with
// a leading BOM, which would otherwise fail the "leading byte must be {"
// check below, decodes the same as its BOM-less counterpart, and string
// literal bytes saved in a non-canonical Unicode form (e.g. NFD) compare
// and re-encode identically to their NFC counterpart.
func normalizeInput(data []byte) []byte {
	data = bytes.TrimPrefix(data, bomUTF8)
	if !norm.NFC.IsNormal(data) {
		data = norm.NFC.Bytes(data)
	}
	return data
}

// Decode parses and shape-checks a JSON AST document. On success it returns
// a fully validated AstFile; on failure, the first encountered *errors.Report
// (wrapped as an error) is returned — decoding stops at the first structural
// violation rather than accumulating a batch, since a malformed document
// can't be safely walked further (spec §7: Parse errors short-circuit).
func Decode(data []byte, maxBytes int) (*AstFile, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) > maxBytes {
		return nil, errors.WrapReport(errors.New(errors.BUDGET002, errors.SeverityError,
			"decode", fmt.Sprintf("AST document exceeds %d byte cap (got %d)", maxBytes, len(data)), nil))
	}
	if !utf8.Valid(data) {
		return nil, errors.WrapReport(errors.New(errors.AST001, errors.SeverityError,
			"decode", "AST document is not valid UTF-8", nil))
	}
	data = normalizeInput(data)

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.WrapReport(errors.New(errors.AST001, errors.SeverityError,
			"decode", "AST document must be a JSON object", &errors.Loc{Pointer: ""}))
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.WrapReport(errors.New(errors.AST001, errors.SeverityError,
			"decode", "invalid JSON: "+err.Error(), nil))
	}

	d := &decoder{root: raw}
	return d.decodeFile()
}

type decoder struct {
	root map[string]any
}

func (d *decoder) fail(code, phase, msg, ptr string) error {
	return errors.WrapReport(errors.New(code, errors.SeverityError, phase, msg, &errors.Loc{Pointer: ptr}))
}

func (d *decoder) decodeFile() (*AstFile, error) {
	schemaVersion, ok := stringField(d.root, "schema_version")
	if !ok {
		return nil, d.fail(errors.AST002, "decode", "missing schema_version", "/schema_version")
	}
	if !supportedVersion(schemaVersion) {
		return nil, d.fail(errors.AST002, "decode",
			fmt.Sprintf("unsupported schema_version %q; supported: %v", schemaVersion, SupportedSchemaVersions),
			"/schema_version")
	}

	kindStr, ok := stringField(d.root, "kind")
	if !ok || (kindStr != string(KindEntry) && kindStr != string(KindModule)) {
		return nil, d.fail(errors.AST001, "decode", "kind must be \"entry\" or \"module\"", "/kind")
	}
	kind := AstKind(kindStr)

	moduleID, ok := stringField(d.root, "module_id")
	if !ok || !validModuleID(moduleID) {
		return nil, d.fail(errors.AST003, "decode",
			fmt.Sprintf("module_id %q is not a dotted lowercase identifier", moduleID), "/module_id")
	}

	imports, err := d.decodeImports()
	if err != nil {
		return nil, err
	}

	rawDecls, _ := d.root["decls"].([]any)
	decls := make([]*Decl, 0, len(rawDecls))
	var exports []string
	for i, rd := range rawDecls {
		ptr := fmt.Sprintf("/decls/%d", i)
		rdMap, ok := rd.(map[string]any)
		if !ok {
			return nil, d.fail(errors.AST001, "decode", "decl must be an object", ptr)
		}
		decl, err := d.decodeDecl(rdMap, ptr)
		if err != nil {
			return nil, err
		}
		if decl.Kind == DeclExport {
			exports = append(exports, decl.Names...)
		}
		decls = append(decls, decl)
	}
	sort.Strings(exports)

	file := &AstFile{
		SchemaVersion: schemaVersion,
		AstKind:       kind,
		ModuleID:      moduleID,
		Imports:       imports,
		Decls:         decls,
		Exports:       exports,
		Meta:          metaField(d.root),
	}

	if kind == KindEntry {
		solveRaw, ok := d.root["solve"]
		if !ok {
			return nil, d.fail(errors.AST001, "decode", "entry file missing solve", "/solve")
		}
		solve, err := d.decodeExpr(solveRaw, "/solve")
		if err != nil {
			return nil, err
		}
		file.Solve = solve
	}

	return file, nil
}

func (d *decoder) decodeImports() ([]string, error) {
	raw, ok := d.root["imports"]
	if !ok {
		return nil, nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, d.fail(errors.AST001, "decode", "imports must be an array", "/imports")
	}
	seen := make(map[string]bool, len(arr))
	out := make([]string, 0, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		ptr := fmt.Sprintf("/imports/%d", i)
		if !ok || !validModuleID(s) {
			return nil, d.fail(errors.AST003, "decode", "import is not a valid module id", ptr)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *decoder) decodeDecl(m map[string]any, ptr string) (*Decl, error) {
	tag, _ := stringField(m, "decl")
	switch tag {
	case "export":
		names, err := d.decodeSymbolList(m, "names", ptr)
		if err != nil {
			return nil, err
		}
		return &Decl{Kind: DeclExport, Pointer: Pointer(ptr), Names: names}, nil
	case "extern":
		return d.decodeExtern(m, ptr)
	case "defn":
		return d.decodeDefn(m, ptr, DeclDefn)
	case "defasync":
		return d.decodeDefn(m, ptr, DeclDefAsync)
	default:
		return nil, d.fail(errors.AST001, "decode", fmt.Sprintf("unknown decl tag %q", tag), ptr)
	}
}

func (d *decoder) decodeSymbolList(m map[string]any, key, ptr string) ([]string, error) {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok || !validSymbol(s) {
			return nil, d.fail(errors.AST003, "decode", fmt.Sprintf("invalid symbol in %s", key),
				fmt.Sprintf("%s/%s/%d", ptr, key, i))
		}
		out = append(out, s)
	}
	return out, nil
}

// ffiPermissible is the subset of the monomorphic universe permitted in
// extern parameter/result position (spec §4.1): pointers, i32, and iface —
// never owning bytes/option/result carriers, which have no stable ABI.
var ffiPermissible = map[Ty]bool{
	TyI32: true, TyPtrConstU8: true, TyPtrMutU8: true,
	TyPtrConstVoid: true, TyPtrMutVoid: true,
	TyPtrConstI32: true, TyPtrMutI32: true, TyIface: true,
}

func (d *decoder) decodeExtern(m map[string]any, ptr string) (*Decl, error) {
	abi, _ := stringField(m, "abi")
	name, ok := stringField(m, "name")
	if !ok || !validSymbol(name) {
		return nil, d.fail(errors.AST003, "decode", "extern name invalid", ptr+"/name")
	}
	linkName, _ := stringField(m, "link_name")
	params, err := d.decodeParams(m, ptr, true)
	if err != nil {
		return nil, err
	}
	var result *TypeRef
	if rv, ok := m["result"]; ok {
		result, err = d.decodeTypeRef(rv, ptr+"/result")
		if err != nil {
			return nil, err
		}
		if mono, ok := result.AsMonoTy(); ok && !ffiPermissible[mono] {
			return nil, d.fail(errors.AST004, "decode", "extern result type not FFI-permissible", ptr+"/result")
		}
	}
	return &Decl{
		Kind: DeclExtern, Pointer: Pointer(ptr),
		ABI: abi, Name: name, LinkName: linkName,
		Params: params, Result: result,
	}, nil
}

func (d *decoder) decodeParams(m map[string]any, ptr string, ffi bool) ([]Param, error) {
	raw, _ := m["params"].([]any)
	out := make([]Param, 0, len(raw))
	for i, v := range raw {
		pm, ok := v.(map[string]any)
		pPtr := fmt.Sprintf("%s/params/%d", ptr, i)
		if !ok {
			return nil, d.fail(errors.AST001, "decode", "param must be an object", pPtr)
		}
		pname, ok := stringField(pm, "name")
		if !ok || !validSymbol(pname) {
			return nil, d.fail(errors.AST003, "decode", "param name invalid", pPtr+"/name")
		}
		tyRaw, ok := pm["type"]
		if !ok {
			return nil, d.fail(errors.AST004, "decode", "param missing type", pPtr+"/type")
		}
		ty, err := d.decodeTypeRef(tyRaw, pPtr+"/type")
		if err != nil {
			return nil, err
		}
		if ffi {
			if mono, ok := ty.AsMonoTy(); ok && !ffiPermissible[mono] {
				return nil, d.fail(errors.AST004, "decode", "extern param type not FFI-permissible", pPtr+"/type")
			}
		}
		var brand *Brand
		if bv, ok := pm["brand"]; ok {
			bname, _ := bv.(string)
			mono, _ := ty.AsMonoTy()
			if bname == "" || !mono.BytesLike() {
				return nil, d.fail(errors.AST005, "decode", "brand requires a bytes-like type", pPtr+"/brand")
			}
			brand = &Brand{Name: bname}
		}
		out = append(out, Param{Name: pname, Type: ty, Brand: brand})
	}
	return out, nil
}

func (d *decoder) decodeDefn(m map[string]any, ptr string, kind DeclKind) (*Decl, error) {
	name, ok := stringField(m, "name")
	if !ok || !validSymbol(name) {
		return nil, d.fail(errors.AST003, "decode", "defn name invalid", ptr+"/name")
	}
	typeParams, err := d.decodeTypeParams(m, ptr)
	if err != nil {
		return nil, err
	}
	params, err := d.decodeParams(m, ptr, false)
	if err != nil {
		return nil, err
	}
	resultRaw, ok := m["result"]
	if !ok {
		return nil, d.fail(errors.AST004, "decode", "defn missing result type", ptr+"/result")
	}
	result, err := d.decodeTypeRef(resultRaw, ptr+"/result")
	if err != nil {
		return nil, err
	}
	var resultBrand *Brand
	if bv, ok := m["result_brand"]; ok {
		bname, _ := bv.(string)
		mono, _ := result.AsMonoTy()
		if bname == "" || !mono.BytesLike() {
			return nil, d.fail(errors.AST005, "decode", "result_brand requires a bytes-like result type", ptr+"/result_brand")
		}
		resultBrand = &Brand{Name: bname}
	}
	bodyRaw, ok := m["body"]
	if !ok {
		return nil, d.fail(errors.AST001, "decode", "defn missing body", ptr+"/body")
	}
	body, err := d.decodeExpr(bodyRaw, ptr+"/body")
	if err != nil {
		return nil, err
	}
	requires, err := d.decodeExprList(m, "requires", ptr)
	if err != nil {
		return nil, err
	}
	ensures, err := d.decodeExprList(m, "ensures", ptr)
	if err != nil {
		return nil, err
	}
	invariant, err := d.decodeExprList(m, "invariant", ptr)
	if err != nil {
		return nil, err
	}
	return &Decl{
		Kind: kind, Pointer: Pointer(ptr), Name: name,
		TypeParams: typeParams, Params: params, Result: result, ResultBrand: resultBrand,
		Body: body, Requires: requires, Ensures: ensures, Invariant: invariant,
	}, nil
}

func (d *decoder) decodeTypeParams(m map[string]any, ptr string) ([]TypeParam, error) {
	raw, _ := m["type_params"].([]any)
	out := make([]TypeParam, 0, len(raw))
	for i, v := range raw {
		switch tv := v.(type) {
		case string:
			if !validSymbol(tv) {
				return nil, d.fail(errors.AST003, "decode", "type_param invalid", fmt.Sprintf("%s/type_params/%d", ptr, i))
			}
			out = append(out, TypeParam{Name: tv})
		case map[string]any:
			name, _ := stringField(tv, "name")
			bound, _ := stringField(tv, "bound")
			if !validSymbol(name) {
				return nil, d.fail(errors.AST003, "decode", "type_param invalid", fmt.Sprintf("%s/type_params/%d", ptr, i))
			}
			out = append(out, TypeParam{Name: name, Bound: bound})
		default:
			return nil, d.fail(errors.AST001, "decode", "type_param must be a string or object", fmt.Sprintf("%s/type_params/%d", ptr, i))
		}
	}
	return out, nil
}

func (d *decoder) decodeExprList(m map[string]any, key, ptr string) ([]*Expr, error) {
	raw, ok := m[key].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]*Expr, 0, len(raw))
	for i, v := range raw {
		e, err := d.decodeExpr(v, fmt.Sprintf("%s/%s/%d", ptr, key, i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeTypeRef parses the "t" sum described in spec §3: a bare string is
// Named(s); a ["t", name] list is Var(name); a [head, <ty>] list (currently
// only "option"/"result") is App.
func (d *decoder) decodeTypeRef(v any, ptr string) (*TypeRef, error) {
	switch tv := v.(type) {
	case string:
		return &TypeRef{Named: tv}, nil
	case []any:
		if len(tv) == 0 {
			return nil, d.fail(errors.AST004, "decode", "type expression list must not be empty", ptr)
		}
		head, ok := tv[0].(string)
		if !ok {
			return nil, d.fail(errors.AST004, "decode", "type expression head must be a string", ptr+"/0")
		}
		if head == "t" {
			if len(tv) != 2 {
				return nil, d.fail(errors.AST004, "decode", "var type expression must be [\"t\", name]", ptr)
			}
			name, ok := tv[1].(string)
			if !ok || !validSymbol(name) {
				return nil, d.fail(errors.AST003, "decode", "type variable name invalid", ptr+"/1")
			}
			return &TypeRef{Var: name}, nil
		}
		if head != "option" && head != "result" {
			return nil, d.fail(errors.AST004, "decode", fmt.Sprintf("unsupported type application head %q", head), ptr+"/0")
		}
		args := make([]*TypeRef, 0, len(tv)-1)
		for i := 1; i < len(tv); i++ {
			arg, err := d.decodeTypeRef(tv[i], fmt.Sprintf("%s/%d", ptr, i))
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		return &TypeRef{Head: head, Args: args}, nil
	default:
		return nil, d.fail(errors.AST004, "decode", "type expression must be a string or list", ptr)
	}
}

// decodeExpr parses an Expr node (spec §3): an integer, an identifier
// string, or a non-empty list [head, args...].
func (d *decoder) decodeExpr(v any, ptr string) (*Expr, error) {
	switch tv := v.(type) {
	case json.Number:
		n, err := tv.Int64()
		if err != nil || n < -2147483648 || n > 2147483647 {
			return nil, d.fail(errors.AST007, "decode", "integer literal out of i32 range", ptr)
		}
		return &Expr{Pointer: Pointer(ptr), IsInt: true, Int: int32(n)}, nil
	case string:
		if !validSymbol(tv) {
			return nil, d.fail(errors.AST003, "decode", "identifier atom invalid", ptr)
		}
		return &Expr{Pointer: Pointer(ptr), IsIdent: true, Ident: tv}, nil
	case []any:
		if len(tv) == 0 {
			return nil, d.fail(errors.AST006, "decode", "list expression must be non-empty", ptr)
		}
		head, ok := tv[0].(string)
		if !ok {
			return nil, d.fail(errors.AST001, "decode", "list head must be a string atom", ptr+"/0")
		}
		e := &Expr{Pointer: Pointer(ptr), IsList: true, Head: head}
		if head == "bytes.lit" || head == "bytes.view_lit" {
			if len(tv) != 2 {
				return nil, d.fail(errors.AST001, "decode", head+" takes exactly one literal argument", ptr)
			}
			switch payload := tv[1].(type) {
			case string:
				e.LiteralPayload = []byte(payload)
				e.HasLiteral = true
				e.Args = []*Expr{{Pointer: Pointer(ptr) + "/1", IsIdent: true, Ident: payload}}
				return e, nil
			default:
				return nil, d.fail(errors.AST001, "decode", head+" literal payload must be a string", ptr+"/1")
			}
		}
		for i := 1; i < len(tv); i++ {
			arg, err := d.decodeExpr(tv[i], fmt.Sprintf("%s/%d", ptr, i))
			if err != nil {
				return nil, err
			}
			e.Args = append(e.Args, arg)
		}
		return e, nil
	default:
		return nil, d.fail(errors.AST001, "decode", "expression must be an int, string, or list", ptr)
	}
}

func supportedVersion(v string) bool {
	for _, sv := range SupportedSchemaVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// validModuleID checks the dotted-lowercase-identifier grammar (spec §4.1).
// s is already NFC-normalized: it was extracted from a document Decode
// already ran through normalizeInput.
func validModuleID(s string) bool {
	if s == "" {
		return false
	}
	return moduleIDPattern.MatchString(s)
}

// validSymbol checks the restricted identifier grammar used for exports,
// params, and function names: no whitespace, no shell metacharacters. s is
// already NFC-normalized (see validModuleID).
func validSymbol(s string) bool {
	if s == "" {
		return false
	}
	return symbolPattern.MatchString(s)
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func metaField(m map[string]any) map[string]any {
	meta, _ := m["meta"].(map[string]any)
	return meta
}
