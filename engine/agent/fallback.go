package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bimgraph/bimgraph/engine/graph"
	"github.com/bimgraph/bimgraph/pkg/fn"
)

// conceptSynonyms maps a measurement concept to the tokens that may
// name it inside a property key, including localized forms seen in
// real models. Matching is case-insensitive containment.
var conceptSynonyms = map[string][]string{
	"area":     {"area", "면적"},
	"volume":   {"volume", "체적", "부피"},
	"height":   {"height", "높이"},
	"width":    {"width", "너비", "폭"},
	"length":   {"length", "길이"},
	"level":    {"level", "storey", "층"},
	"material": {"material", "재료", "자재"},
	"fire":     {"fire", "내화"},
	"external": {"external", "외부"},
	"load":     {"loadbearing", "하중"},
}

// questionStopwords are tokens never worth a name lookup.
var questionStopwords = map[string]bool{
	"the": true, "of": true, "is": true, "what": true, "which": true,
	"how": true, "are": true, "for": true, "in": true, "a": true,
	"an": true, "room": true, "and": true, "does": true, "have": true,
	"with": true, "to": true, "on": true, "many": true, "much": true,
}

// classTokens maps nouns that name a category of elements to the IFC
// class stored on the node, so a question that names no individual
// element can still resolve. First match wins.
var classTokens = []struct{ token, class string }{
	{"wall", "IfcWall"}, {"벽", "IfcWall"},
	{"door", "IfcDoor"}, {"문", "IfcDoor"},
	{"window", "IfcWindow"}, {"창", "IfcWindow"},
	{"room", "IfcSpace"}, {"space", "IfcSpace"}, {"공간", "IfcSpace"},
	{"slab", "IfcSlab"}, {"floor", "IfcSlab"},
	{"storey", "IfcBuildingStorey"}, {"층", "IfcBuildingStorey"},
	{"column", "IfcColumn"},
	{"beam", "IfcBeam"},
	{"stair", "IfcStair"},
	{"roof", "IfcRoof"},
	{"railing", "IfcRailing"},
	{"zone", "IfcZone"},
	{"system", "IfcSystem"},
}

var errNoFallbackAnswer = errors.New("no element matched the question")

// resolveFromProperties is the path-resolution fallback: locate an
// element named in the question, then search every property set for a
// key matching the asked concept. When no key matches, the element's
// whole property structure comes back marked unverified.
func (a *Agent) resolveFromProperties(ctx context.Context, question string) (*Answer, error) {
	concepts := detectConcepts(question)

	for _, candidate := range nameCandidates(question) {
		rows, err := a.reader.ElementsByName(ctx, candidate, 5)
		if err != nil {
			return nil, fmt.Errorf("fallback lookup %q: %w", candidate, err)
		}
		for _, row := range rows {
			props := decodeProperties(row.Properties)

			if set, key, value, ok := searchProperty(props, concepts); ok {
				return a.propertyAnswer(question, row, set, key, value), nil
			}

			if len(props) > 0 {
				raw, _ := json.Marshal(props)
				return &Answer{
					Question:   question,
					Text:       fmt.Sprintf("No property matched directly; full property sets of %s (%s): %s", row.Name, row.IfcClass, raw),
					Source:     SourceFallback,
					Unverified: true,
					Rows: []map[string]any{{
						"globalId": row.GlobalID, "name": row.Name,
						"properties": props,
					}},
				}, nil
			}
		}
	}

	if class := detectClass(question); class != "" {
		return a.resolveByClass(ctx, question, class, concepts)
	}
	return nil, errNoFallbackAnswer
}

// resolveByClass handles questions that name a category rather than an
// individual element, like a count or listing of all walls. When the
// question also asks for a measurement, the first member carrying a
// matching property key answers for the class.
func (a *Agent) resolveByClass(ctx context.Context, question, class string, concepts []string) (*Answer, error) {
	rows, err := a.reader.ElementsByClass(ctx, class, 25)
	if err != nil {
		return nil, fmt.Errorf("fallback class lookup %s: %w", class, err)
	}
	if len(rows) == 0 {
		return nil, errNoFallbackAnswer
	}

	for _, row := range rows {
		if set, key, value, ok := searchProperty(decodeProperties(row.Properties), concepts); ok {
			return a.propertyAnswer(question, row, set, key, value), nil
		}
	}

	names := fn.FilterMap(rows, func(r graph.ElementRow) (string, bool) {
		return r.Name, r.Name != ""
	})
	text := fmt.Sprintf("%d %s elements", len(rows), class)
	if len(names) > 0 {
		text += ": " + strings.Join(names, ", ")
	}
	a.log.Info("answer resolved from class listing", "class", class, "count", len(rows))
	return &Answer{
		Question: question,
		Text:     text,
		Source:   SourceProperty,
		Rows: fn.Map(rows, func(r graph.ElementRow) map[string]any {
			return map[string]any{
				"globalId": r.GlobalID, "name": r.Name, "ifcClass": r.IfcClass,
			}
		}),
	}, nil
}

func (a *Agent) propertyAnswer(question string, row graph.ElementRow, set, key string, value any) *Answer {
	a.log.Info("answer resolved from property path",
		"element", row.GlobalID, "set", set, "key", key)
	return &Answer{
		Question: question,
		Text: fmt.Sprintf("%s (%s): %s = %v (from property set %q)",
			row.Name, row.IfcClass, key, value, set),
		Source: SourceProperty,
		Rows: []map[string]any{{
			"globalId": row.GlobalID, "name": row.Name,
			"propertySet": set, "property": key, "value": value,
		}},
	}
}

// detectClass finds the element category a question names, if any.
func detectClass(question string) string {
	lower := strings.ToLower(question)
	for _, c := range classTokens {
		if strings.Contains(lower, c.token) {
			return c.class
		}
	}
	return ""
}

// detectConcepts finds which measurement concepts the question asks
// about, in either the canonical or a localized form.
func detectConcepts(question string) []string {
	lower := strings.ToLower(question)
	var out []string
	for concept, tokens := range conceptSynonyms {
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				out = append(out, concept)
				break
			}
		}
	}
	return out
}

// nameCandidates extracts tokens worth an element-name lookup:
// identifier-like tokens (containing a digit) first, then remaining
// non-stopword tokens.
func nameCandidates(question string) []string {
	tokens := strings.FieldsFunc(question, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var ids, words []string
	for _, tok := range tokens {
		if len(tok) < 2 || questionStopwords[strings.ToLower(tok)] {
			continue
		}
		if strings.ContainsFunc(tok, unicode.IsDigit) {
			ids = append(ids, tok)
		} else {
			words = append(words, tok)
		}
	}
	return fn.Unique(append(ids, words...))
}

// decodeProperties parses the JSON property-set string stored on the
// node. A malformed blob yields nil rather than an error: fallback is
// best effort.
func decodeProperties(raw string) map[string]map[string]any {
	if raw == "" {
		return nil
	}
	var props map[string]map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil
	}
	return props
}

// searchProperty scans all property sets for a key matching any asked
// concept. Keys are matched case-insensitively against every synonym
// of the concept, so "GrossArea" satisfies an "area" question and a
// localized key satisfies its localized synonym.
func searchProperty(props map[string]map[string]any, concepts []string) (set, key string, value any, ok bool) {
	for setName, members := range props {
		for keyName, v := range members {
			lower := strings.ToLower(keyName)
			for _, concept := range concepts {
				for _, tok := range conceptSynonyms[concept] {
					if strings.Contains(lower, tok) {
						return setName, keyName, v, true
					}
				}
			}
		}
	}
	return "", "", nil, false
}
