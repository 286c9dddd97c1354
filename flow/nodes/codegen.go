package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/model"
)

// parseCode extracts component records from the generated UI code
// bundle. No bundle means analysis is skipped, not failed; parser faults
// degrade the same way since the API can still be inferred from design
// docs.
func (d Deps) parseCode(ctx context.Context, s flow.SessionState) flow.Result {
	if s.CodeBundleRef == "" {
		return flow.Result{Patch: flow.Patch{CodeAnalysisSkipped: flowPtr(true)}}
	}
	if d.Parser == nil {
		return flow.Result{Patch: flow.Patch{CodeAnalysisSkipped: flowPtr(true)}}
	}

	components, err := d.Parser.Parse(ctx, s.CodeBundleRef)
	if err != nil {
		return flow.Result{Patch: flow.Patch{
			CodeAnalysisSkipped: flowPtr(true),
			AppendErrors: []flow.ErrorRecord{{
				Node:      flow.StageParseCode,
				Kind:      string(flow.KindExternalServiceError),
				Message:   fmt.Sprintf("code bundle unreadable: %v", err),
				Recovered: true,
			}},
		}}
	}

	return flow.Result{Patch: flow.Patch{ParsedComponents: components}}
}

// inferAPI deduces endpoints, preferring observed component API calls
// over design docs. (method, path) deduplicates; the first source wins.
func (d Deps) inferAPI(ctx context.Context, s flow.SessionState) flow.Result {
	endpoints := endpointsFromComponents(s.ParsedComponents)

	if len(endpoints) == 0 {
		inferred, err := d.endpointsFromDocs(ctx, s)
		if err != nil {
			return flow.Result{Err: err}
		}
		endpoints = inferred
	}

	return flow.Result{Patch: flow.Patch{InferredAPISpec: dedupEndpoints(endpoints)}}
}

func endpointsFromComponents(components []flow.Component) []flow.Endpoint {
	var out []flow.Endpoint
	for _, c := range components {
		for _, call := range c.APICalls {
			out = append(out, flow.Endpoint{
				Method: strings.ToUpper(call.Method),
				Path:   call.Path,
				Source: flow.SourceComponentCode,
			})
		}
	}
	return out
}

func (d Deps) endpointsFromDocs(ctx context.Context, s flow.SessionState) ([]flow.Endpoint, error) {
	prompt := fmt.Sprintf(`Derive the REST endpoints this application needs from its product and design docs.

Return JSON: {"endpoints": [{"method": "GET", "path": "/things", "request_shape": {}, "response_shape": {}}]}.
Use plural resource paths and standard verbs; include only endpoints the described screens need.

%s`, inputsDigest(s))

	resp, err := d.complete(ctx, flow.StageInferAPI, model.Request{
		System:      systemPrompt,
		Messages:    []model.Message{{Role: model.RoleUser, Content: prompt}},
		MaxTokens:   2048,
		Temperature: 0,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Endpoints []flow.Endpoint `json:"endpoints"`
	}
	if err := decodeJSON(resp.Text, &out); err != nil {
		return nil, &flow.NodeError{
			Stage: flow.StageInferAPI, Kind: flow.KindExternalServiceError, Err: err,
		}
	}
	for i := range out.Endpoints {
		out.Endpoints[i].Method = strings.ToUpper(out.Endpoints[i].Method)
		out.Endpoints[i].Source = flow.SourceDesignDocs
	}
	return out.Endpoints, nil
}

func dedupEndpoints(in []flow.Endpoint) []flow.Endpoint {
	seen := make(map[string]bool, len(in))
	out := make([]flow.Endpoint, 0, len(in))
	for _, e := range in {
		key := e.Method + " " + e.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
