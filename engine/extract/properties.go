package extract

import (
	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/step"
)

// resolveDefines walks every property-definition relationship and
// attaches the resolved property sets to the elements they apply to.
// Definitions pointing at records we never saw are counted as warnings
// rather than failing the file.
func (x *Extractor) resolveDefines(elements map[int64]*domain.Element, props map[int64]step.Record, defines []defineRec, st *Stats) {
	for _, def := range defines {
		rec, ok := props[def.relating]
		if !ok {
			st.PropertyWarnings++
			x.log.Debug("property definition target not found",
				"file", x.fileID, "record", def.relating)
			continue
		}
		name, values := x.resolveSet(props, rec, 1, map[int64]bool{rec.ID: true}, st)
		if name == "" || len(values) == 0 {
			continue
		}
		for _, elRec := range def.related {
			el, ok := elements[elRec]
			if !ok {
				continue
			}
			if el.Properties == nil {
				el.Properties = make(map[string]map[string]any)
			}
			set := el.Properties[name]
			if set == nil {
				set = make(map[string]any, len(values))
				el.Properties[name] = set
			}
			for k, v := range values {
				set[k] = v
			}
		}
	}
}

// resolveSet extracts the name and member values of a property set or
// quantity set record. Depth and the visited set carry through nested
// sets so indirection cannot recurse without bound.
func (x *Extractor) resolveSet(props map[int64]step.Record, rec step.Record, depth int, visited map[int64]bool, st *Stats) (string, map[string]any) {
	var memberIdx int
	switch rec.Type {
	case "IFCPROPERTYSET":
		memberIdx = 4
	case "IFCELEMENTQUANTITY":
		memberIdx = 5
	default:
		st.PropertyWarnings++
		return "", nil
	}

	name := rec.StrAt(2)
	values := make(map[string]any)
	for _, ref := range rec.RefsAt(memberIdx) {
		if visited[ref] {
			st.PropertyWarnings++
			continue
		}
		member, ok := props[ref]
		if !ok {
			st.PropertyWarnings++
			continue
		}
		key := member.StrAt(0)
		if key == "" {
			continue
		}
		visited[ref] = true
		v := x.resolveValue(props, member, depth, visited, st)
		delete(visited, ref)
		if v != nil {
			values[key] = v
		}
	}
	return name, values
}

// resolveValue converts a single property record to a Go value,
// following nested and indirected records up to the configured depth.
// Cycles and over-deep nesting produce a nil value and a warning count.
func (x *Extractor) resolveValue(props map[int64]step.Record, rec step.Record, depth int, visited map[int64]bool, st *Stats) any {
	if depth > x.maxDepth {
		st.PropertyWarnings++
		x.log.Warn("property nesting exceeds depth limit",
			"file", x.fileID, "record", rec.ID, "depth", depth)
		return nil
	}

	switch rec.Type {
	case "IFCPROPERTYSINGLEVALUE":
		if len(rec.Args) > 2 && rec.Args[2].Kind == step.KindRef {
			return x.resolveRef(props, rec.Args[2].Ref, depth+1, visited, st)
		}
		if len(rec.Args) > 2 {
			return rec.Args[2].Native()
		}
		return nil

	case "IFCQUANTITYAREA", "IFCQUANTITYLENGTH", "IFCQUANTITYVOLUME",
		"IFCQUANTITYCOUNT", "IFCQUANTITYWEIGHT":
		if len(rec.Args) > 3 {
			return rec.Args[3].Native()
		}
		return nil

	case "IFCPROPERTYSET", "IFCELEMENTQUANTITY":
		// Indirection: a property value pointing at a whole set.
		_, nested := x.resolveSet(props, rec, depth+1, visited, st)
		if len(nested) == 0 {
			return nil
		}
		return nested

	case "IFCCOMPLEXPROPERTY":
		nested := make(map[string]any)
		for _, ref := range rec.RefsAt(3) {
			child := x.resolveRef(props, ref, depth+1, visited, st)
			if child == nil {
				continue
			}
			if member, ok := props[ref]; ok {
				if key := member.StrAt(0); key != "" {
					nested[key] = child
				}
			}
		}
		if len(nested) == 0 {
			return nil
		}
		return nested

	default:
		st.PropertyWarnings++
		return nil
	}
}

func (x *Extractor) resolveRef(props map[int64]step.Record, ref int64, depth int, visited map[int64]bool, st *Stats) any {
	if visited[ref] {
		st.PropertyWarnings++
		x.log.Warn("cyclic property reference", "file", x.fileID, "record", ref)
		return nil
	}
	rec, ok := props[ref]
	if !ok {
		st.PropertyWarnings++
		return nil
	}
	visited[ref] = true
	v := x.resolveValue(props, rec, depth, visited, st)
	delete(visited, ref)
	return v
}
