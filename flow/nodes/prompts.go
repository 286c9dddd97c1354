package nodes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/specflow-go/flow"
)

const systemPrompt = "You are a senior software architect turning product " +
	"and design documents into technical specifications. Answer precisely " +
	"and, when asked for JSON, return a single JSON object with no prose."

// decodeJSON strips markdown code fences that models wrap around JSON
// and unmarshals the remainder.
func decodeJSON(text string, v any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Models sometimes lead with prose; recover the outermost object.
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		if start := strings.IndexAny(cleaned, "{["); start >= 0 {
			cleaned = cleaned[start:]
		}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// inputsDigest summarizes the upstream documents for prompts, keeping
// design docs in a stable order.
func inputsDigest(s flow.SessionState) string {
	var b strings.Builder
	b.WriteString("## PRD\n\n")
	b.WriteString(s.PRDContent)

	keys := make([]string, 0, len(s.DesignDocs))
	for k := range s.DesignDocs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n\n## Design doc: %s\n\n%s", k, s.DesignDocs[k])
	}

	if len(s.DesignDecisions) > 0 {
		b.WriteString("\n\n## Clarifications and decisions\n")
		for _, d := range s.DesignDecisions {
			b.WriteString("\n- " + d)
		}
	}
	return b.String()
}

// decisionsDigest lists the accepted technology choices for prompts.
func decisionsDigest(s flow.SessionState) string {
	if len(s.UserDecisions) == 0 {
		return "none yet"
	}
	var b strings.Builder
	for _, d := range s.UserDecisions {
		if gap, ok := s.GapByID(d.GapID); ok {
			fmt.Fprintf(&b, "- %s: %s\n", gap.Category, d.ChosenName)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", d.ChosenName)
	}
	return b.String()
}

// endpointsDigest lists inferred endpoints for prompts.
func endpointsDigest(s flow.SessionState) string {
	if len(s.InferredAPISpec) == 0 {
		return "none inferred"
	}
	var b strings.Builder
	for _, e := range s.InferredAPISpec {
		fmt.Fprintf(&b, "- %s %s\n", e.Method, e.Path)
	}
	return b.String()
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
