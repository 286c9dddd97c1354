package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/model"
)

// generateTRD drafts the Technical Requirements Document. Each run
// increments the retry loop counter; regeneration prompts carry the
// previous critique so drafts improve rather than repeat.
func (d Deps) generateTRD(ctx context.Context, s flow.SessionState) flow.Result {
	var critique string
	if s.TRDValidation != nil && !s.TRDValidation.IsValid {
		critique = fmt.Sprintf(`
The previous draft scored %d. Address these problems:
- Missing sections: %s
- Inconsistencies: %s
- Suggestions: %s
`,
			s.TRDValidation.Score,
			strings.Join(s.TRDValidation.MissingSections, "; "),
			strings.Join(s.TRDValidation.Inconsistencies, "; "),
			strings.Join(s.TRDValidation.Suggestions, "; "))
	}

	prompt := fmt.Sprintf(`Write a complete Technical Requirements Document in markdown.

Required sections: Overview, Functional Requirements, System Architecture, Data Model, API Design, Technology Stack, Non-Functional Requirements, Open Risks.

Technology decisions already made:
%s
Inferred API endpoints:
%s
%s
%s`, decisionsDigest(s), endpointsDigest(s), critique, inputsDigest(s))

	resp, err := d.complete(ctx, flow.StageGenerateTRD, model.Request{
		System:    systemPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens: 8192,
	})
	if err != nil {
		return flow.Result{Err: err}
	}

	return flow.Result{Patch: flow.Patch{
		TRDDraft:       &resp.Text,
		IterationCount: flowPtr(s.IterationCount + 1),
	}}
}

// validateTRD critiques the draft. The pass threshold and the retry cap
// come from configuration; once either is met the draft becomes final,
// and an exhausted cap is a forced pass recorded at save time.
func (d Deps) validateTRD(ctx context.Context, s flow.SessionState) flow.Result {
	prompt := fmt.Sprintf(`Critique this Technical Requirements Document for completeness and internal consistency.

Score 0-100. Return JSON: {"score": 0, "missing_sections": [...], "inconsistencies": [...], "suggestions": [...]}.

%s`, s.TRDDraft)

	resp, err := d.complete(ctx, flow.StageValidateTRD, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return flow.Result{Err: err}
	}

	var out struct {
		Score           int      `json:"score"`
		MissingSections []string `json:"missing_sections"`
		Inconsistencies []string `json:"inconsistencies"`
		Suggestions     []string `json:"suggestions"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil {
		return flow.Result{Err: &flow.NodeError{
			Stage: flow.StageValidateTRD, Kind: flow.KindExternalServiceError, Err: err,
		}}
	}

	validation := flow.TRDValidation{
		Score:           clampScore(out.Score),
		IsValid:         clampScore(out.Score) >= d.Config.TRDScoreThreshold,
		MissingSections: out.MissingSections,
		Inconsistencies: out.Inconsistencies,
		Suggestions:     out.Suggestions,
	}

	patch := flow.Patch{TRDValidation: &validation}
	if validation.IsValid || s.IterationCount >= d.Config.TRDMaxRetries {
		patch.FinalTRD = flowPtr(s.TRDDraft)
	}
	return flow.Result{Patch: patch}
}

// generateAPISpec shapes the inferred endpoints into an OpenAPI 3.0
// document. This is deterministic assembly, not generation.
func (d Deps) generateAPISpec(_ context.Context, s flow.SessionState) flow.Result {
	paths := make(map[string]any)
	for _, e := range s.InferredAPISpec {
		op := map[string]any{
			"summary": fmt.Sprintf("%s %s", e.Method, e.Path),
			"responses": map[string]any{
				"200": map[string]any{"description": "Success"},
			},
		}
		if len(e.RequestShape) > 0 {
			op["requestBody"] = map[string]any{
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object", "properties": e.RequestShape},
					},
				},
			}
		}
		if len(e.ResponseShape) > 0 {
			op["responses"] = map[string]any{
				"200": map[string]any{
					"description": "Success",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"type": "object", "properties": e.ResponseShape},
						},
					},
				},
			}
		}

		entry, ok := paths[e.Path].(map[string]any)
		if !ok {
			entry = make(map[string]any)
			paths[e.Path] = entry
		}
		entry[strings.ToLower(e.Method)] = op
	}

	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   fmt.Sprintf("Project %s API", s.ProjectID),
			"version": "1.0.0",
		},
		"paths": paths,
	}
	return flow.Result{Patch: flow.Patch{APISpecification: spec}}
}

// generateDBSchema asks the LLM for DDL plus a structured table list;
// when the structured part is unusable the schema is derived from the
// endpoint resources instead.
func (d Deps) generateDBSchema(ctx context.Context, s flow.SessionState) flow.Result {
	prompt := fmt.Sprintf(`Design the relational schema for this application.

Return JSON: {"ddl": "CREATE TABLE ...", "tables": [{"name": "...", "columns": [{"name": "...", "type": "...", "nullable": false, "primary_key": false}]}]}.
Use snake_case names, surrogate integer keys, and explicit foreign keys in the DDL.

Technology decisions:
%s
Endpoints:
%s
%s`, decisionsDigest(s), endpointsDigest(s), inputsDigest(s))

	resp, err := d.complete(ctx, flow.StageGenerateDBSchema, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   4096,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return flow.Result{Err: err}
	}

	var schema flow.DBSchema
	if decodeErr := decodeJSON(resp.Text, &schema); decodeErr != nil || len(schema.Tables) == 0 {
		schema = schemaFromEndpoints(s.InferredAPISpec)
	}
	return flow.Result{Patch: flow.Patch{DBSchema: &schema}}
}

// schemaFromEndpoints derives a minimal schema from the API's resource
// paths: one table per top-level plural resource.
func schemaFromEndpoints(endpoints []flow.Endpoint) flow.DBSchema {
	seen := make(map[string]bool)
	var schema flow.DBSchema
	var ddl strings.Builder

	for _, e := range endpoints {
		resource := rootResource(e.Path)
		if resource == "" || seen[resource] {
			continue
		}
		seen[resource] = true

		table := flow.Table{
			Name: resource,
			Columns: []flow.Column{
				{Name: "id", Type: "BIGINT", PrimaryKey: true},
				{Name: "created_at", Type: "TIMESTAMP"},
				{Name: "updated_at", Type: "TIMESTAMP"},
			},
		}
		schema.Tables = append(schema.Tables, table)
		fmt.Fprintf(&ddl, "CREATE TABLE %s (\n\tid BIGINT PRIMARY KEY,\n\tcreated_at TIMESTAMP NOT NULL,\n\tupdated_at TIMESTAMP NOT NULL\n);\n\n", resource)
	}
	schema.DDL = strings.TrimSpace(ddl.String())
	return schema
}

func rootResource(path string) string {
	for _, part := range strings.Split(path, "/") {
		if part == "" || strings.HasPrefix(part, "{") || strings.HasPrefix(part, ":") {
			continue
		}
		return part
	}
	return ""
}

// generateDBERD renders the schema as a mermaid entity-relation diagram.
// Foreign keys are recognized by the _id column convention.
func (d Deps) generateDBERD(_ context.Context, s flow.SessionState) flow.Result {
	if s.DBSchema == nil {
		return flow.Result{Err: flow.Errf(flow.StageGenerateDBERD,
			flow.KindInvalidState, "no database schema to diagram")}
	}

	tables := make(map[string]bool, len(s.DBSchema.Tables))
	for _, t := range s.DBSchema.Tables {
		tables[t.Name] = true
	}

	var b strings.Builder
	b.WriteString("erDiagram\n")
	for _, t := range s.DBSchema.Tables {
		fmt.Fprintf(&b, "    %s {\n", t.Name)
		for _, c := range t.Columns {
			marker := ""
			if c.PrimaryKey {
				marker = " PK"
			}
			fmt.Fprintf(&b, "        %s %s%s\n", strings.ReplaceAll(c.Type, " ", "_"), c.Name, marker)
		}
		b.WriteString("    }\n")
	}
	for _, t := range s.DBSchema.Tables {
		for _, c := range t.Columns {
			ref := strings.TrimSuffix(c.Name, "_id")
			if ref == c.Name {
				continue
			}
			for owner := range tables {
				if owner != t.Name && (owner == ref || owner == ref+"s") {
					fmt.Fprintf(&b, "    %s ||--o{ %s : has\n", owner, t.Name)
				}
			}
		}
	}

	return flow.Result{Patch: flow.Patch{DBERD: flowPtr(b.String())}}
}

// generateArchitecture renders the system as a mermaid flowchart:
// client, API layer, one node per chosen technology, and the database.
func (d Deps) generateArchitecture(_ context.Context, s flow.SessionState) flow.Result {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    client[Web Client] --> api[API Service]\n")

	for i, dec := range s.UserDecisions {
		id := fmt.Sprintf("svc%d", i)
		category := dec.GapID
		if gap, ok := s.GapByID(dec.GapID); ok {
			category = gap.Category
		}
		fmt.Fprintf(&b, "    api --> %s[%s: %s]\n", id, category, dec.ChosenName)
	}
	if s.DBSchema != nil && len(s.DBSchema.Tables) > 0 {
		fmt.Fprintf(&b, "    api --> db[(Database: %d tables)]\n", len(s.DBSchema.Tables))
	}

	return flow.Result{Patch: flow.Patch{ArchitectureDiagram: flowPtr(b.String())}}
}

// validateArchitecture scores the diagram against what the session
// decided. A low score records a warning; unlike the TRD there is no
// regeneration loop.
func (d Deps) validateArchitecture(_ context.Context, s flow.SessionState) flow.Result {
	score := 100
	var issues []string

	if s.ArchitectureDiagram == "" {
		score = 0
		issues = append(issues, "architecture diagram is empty")
	} else {
		for _, dec := range s.UserDecisions {
			if !strings.Contains(s.ArchitectureDiagram, dec.ChosenName) {
				score -= 20
				issues = append(issues, fmt.Sprintf("chosen technology %s absent from diagram", dec.ChosenName))
			}
		}
		if s.DBSchema != nil && len(s.DBSchema.Tables) > 0 && !strings.Contains(s.ArchitectureDiagram, "Database") {
			score -= 20
			issues = append(issues, "database tier absent from diagram")
		}
	}
	if score < 0 {
		score = 0
	}

	validation := flow.ArchValidation{Score: score, Issues: issues}
	patch := flow.Patch{ArchitectureValidation: &validation}
	if score < d.Config.TRDScoreThreshold {
		patch.AppendErrors = []flow.ErrorRecord{{
			Node:      flow.StageValidateArchitecture,
			Kind:      string(flow.KindValidationBelowThreshold),
			Message:   fmt.Sprintf("architecture scored %d: %s", score, strings.Join(issues, "; ")),
			Recovered: true,
		}}
	}
	return flow.Result{Patch: patch}
}

// generateTechStackDoc assembles the chosen stack with the research
// detail behind each choice.
func (d Deps) generateTechStackDoc(_ context.Context, s flow.SessionState) flow.Result {
	stack := make([]map[string]any, 0, len(s.UserDecisions))
	for _, dec := range s.UserDecisions {
		entry := map[string]any{
			"technology": dec.ChosenName,
			"source":     string(dec.Source),
		}
		if dec.Reason != "" {
			entry["reason"] = dec.Reason
		}
		if gap, ok := s.GapByID(dec.GapID); ok {
			entry["category"] = gap.Category
			entry["requirements"] = gap.Requirements
		}
		if research, ok := s.ResearchFor(dec.GapID); ok {
			for _, opt := range research.Options {
				if opt.Name == dec.ChosenName {
					entry["description"] = opt.Description
					entry["docs_url"] = opt.DocsURL
					entry["pros"] = opt.Pros
					entry["cons"] = opt.Cons
					break
				}
			}
		}
		stack = append(stack, entry)
	}

	doc := map[string]any{
		"project_id": s.ProjectID,
		"stack":      stack,
		"decided":    len(s.UserDecisions),
	}
	return flow.Result{Patch: flow.Patch{TechStackDocument: doc}}
}
