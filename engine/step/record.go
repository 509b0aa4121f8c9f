package step

// Kind discriminates the parameter value variants that appear in a STEP
// entity instance.
type Kind uint8

const (
	KindNull    Kind = iota // $, explicit null
	KindDerived             // *, value derived from schema
	KindString
	KindNumber
	KindEnum // .IDENT.
	KindRef  // #n entity reference
	KindList // (...) aggregate
	KindTyped
)

// Value is one parsed parameter of a Record. Values are plain data: the
// Kind field selects which of the payload fields is meaningful.
type Value struct {
	Kind     Kind
	Str      string  // KindString, KindEnum
	Num      float64 // KindNumber
	Ref      int64   // KindRef
	List     []Value // KindList
	TypeName string  // KindTyped wrapper name, e.g. IFCLABEL
	Inner    []Value // KindTyped wrapped arguments
}

// Record is one parsed STEP entity instance (#n=TYPE(...);). Records are
// immutable once parsed and are discarded after extraction.
type Record struct {
	ID     int64
	Type   string // upper-case entity tag, e.g. IFCWALL
	Args   []Value
	Line   int
	Offset int64
}

// StrAt returns the string argument at index i, or "" if it is absent,
// null, or not a string.
func (r Record) StrAt(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	if v := r.Args[i]; v.Kind == KindString {
		return v.Str
	}
	return ""
}

// RefAt returns the entity reference at index i, or 0 if the argument is
// absent or not a reference.
func (r Record) RefAt(i int) int64 {
	if i < 0 || i >= len(r.Args) {
		return 0
	}
	if v := r.Args[i]; v.Kind == KindRef {
		return v.Ref
	}
	return 0
}

// RefsAt returns all entity references inside the list argument at index i.
func (r Record) RefsAt(i int) []int64 {
	if i < 0 || i >= len(r.Args) || r.Args[i].Kind != KindList {
		return nil
	}
	var refs []int64
	for _, v := range r.Args[i].List {
		if v.Kind == KindRef {
			refs = append(refs, v.Ref)
		}
	}
	return refs
}

// Native converts a Value to its closest Go representation for storage in
// a property bag. Typed wrappers collapse to their single wrapped value so
// unit-wrapped numbers survive as numbers.
func (v Value) Native() any {
	switch v.Kind {
	case KindString, KindEnum:
		return v.Str
	case KindNumber:
		return v.Num
	case KindRef:
		return v.Ref
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Native()
		}
		return out
	case KindTyped:
		if len(v.Inner) == 1 {
			return v.Inner[0].Native()
		}
		out := make([]any, len(v.Inner))
		for i, item := range v.Inner {
			out[i] = item.Native()
		}
		return map[string]any{v.TypeName: out}
	default:
		return nil
	}
}
