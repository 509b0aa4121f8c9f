package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/graph"
)

// cypherPrompt grounds the generation call in the vocabulary actually
// present in the database so the model does not invent labels.
func cypherPrompt(schema *graph.Schema, question string) string {
	var b strings.Builder
	b.WriteString("You translate questions about a building model into a single Cypher query.\n\n")
	b.WriteString("Graph schema:\n")
	fmt.Fprintf(&b, "- Node labels: %s\n", strings.Join(schema.Labels, ", "))
	fmt.Fprintf(&b, "- Relationship types: %s\n", strings.Join(schema.RelTypes, ", "))
	fmt.Fprintf(&b, "- Property keys: %s\n", strings.Join(schema.PropertyKeys, ", "))
	b.WriteString("\nNotes:\n")
	b.WriteString("- Every element node has the Element label plus its IFC class label.\n")
	b.WriteString("- Nested property sets are stored in the `properties` key as a JSON string.\n")
	b.WriteString("- Use MATCH and RETURN only. Never modify data.\n")
	b.WriteString("- Answer with the Cypher query alone, no explanation.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

func answerPrompt(question, rowsJSON string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the query results below. ")
	b.WriteString("Be concise and name the values you used. ")
	b.WriteString("If the results do not contain the answer, say so.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nResults:\n%s\n", question, rowsJSON)
	return b.String()
}

var (
	fenceRe = regexp.MustCompile("(?s)```(?:cypher|sql)?\\s*(.*?)```")
	// prefixes a model tends to put in front of the query proper
	prefixRe = regexp.MustCompile(`(?i)^\s*(cypher|query|answer)\s*:\s*`)
)

// CleanCypher strips markdown fences, labeled prefixes, and trailing
// semicolons from generated text, leaving the bare query.
func CleanCypher(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = prefixRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	return s
}

var mutatingKeywords = map[string]bool{
	"CREATE": true, "MERGE": true, "DELETE": true, "DETACH": true,
	"SET": true, "REMOVE": true, "DROP": true, "FOREACH": true,
}

var wordRe = regexp.MustCompile(`[A-Za-z_]+`)

// CheckReadOnly rejects any generated query containing a mutating
// keyword. Generated text is untrusted; only read-only forms may run.
// Matching is conservative: a keyword inside a string literal still
// rejects the query.
func CheckReadOnly(cypher string) error {
	upper := strings.ToUpper(cypher)
	if strings.Contains(upper, "LOAD CSV") {
		return fmt.Errorf("%w: LOAD CSV", domain.ErrMutatingQuery)
	}
	for _, word := range wordRe.FindAllString(upper, -1) {
		if mutatingKeywords[word] {
			return fmt.Errorf("%w: %s", domain.ErrMutatingQuery, word)
		}
	}
	return nil
}
