// Package nodes implements the workflow's node library: analysis of the
// upstream design artifacts, technology research and the decision loop,
// code parsing and API inference, the document generators, and the
// persist/notify tail.
package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/specflow-go/flow"
	"github.com/dshills/specflow-go/flow/artifact"
	"github.com/dshills/specflow-go/flow/model"
	"github.com/dshills/specflow-go/flow/search"
	"github.com/dshills/specflow-go/flow/upstream"
)

// Deps bundles every external collaborator the nodes call. Tests
// substitute in-memory implementations.
type Deps struct {
	Completer model.Completer
	Usage     *model.UsageTracker
	Searcher  search.Searcher
	Fallback  search.Searcher
	Upstream  upstream.Loader
	Parser    upstream.BundleParser
	Notifier  upstream.Notifier
	Artifacts artifact.Store
	Config    flow.Config
}

func (d Deps) validate() error {
	if d.Completer == nil {
		return fmt.Errorf("nodes: completer required")
	}
	if d.Upstream == nil {
		return fmt.Errorf("nodes: upstream loader required")
	}
	if d.Artifacts == nil {
		return fmt.Errorf("nodes: artifact store required")
	}
	if d.Searcher == nil && d.Fallback == nil {
		return fmt.Errorf("nodes: a searcher or fallback library required")
	}
	return nil
}

// Build assembles the full node registry. Progress targets are fixed per
// node and non-decreasing along every realizable path.
func Build(deps Deps) (flow.Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	llmRetry := &flow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   flow.DefaultRetryable,
	}

	return flow.NewRegistry(
		flow.Node{Stage: flow.StageLoadInputs, Progress: 5, Timeout: cfg.LLMTimeout, Run: deps.loadInputs},
		flow.Node{Stage: flow.StageAnalyzeCompleteness, Progress: 15, Timeout: cfg.LLMTimeout, Retry: llmRetry, Run: deps.analyzeCompleteness},
		flow.Node{Stage: flow.StageAskClarification, Progress: 20, Timeout: cfg.LLMTimeout, Run: deps.askClarification},
		flow.Node{Stage: flow.StageIdentifyTechGaps, Progress: 25, Timeout: cfg.LLMTimeout, Retry: llmRetry, Run: deps.identifyTechGaps},
		flow.Node{Stage: flow.StageResearchTechnologies, Progress: 35, Timeout: cfg.ResearchTimeout, Run: deps.researchTechnologies},
		flow.Node{Stage: flow.StagePresentOptions, Progress: 45, Timeout: cfg.LLMTimeout, Run: deps.presentOptions},
		flow.Node{Stage: flow.StageWaitUserDecision, Progress: 45, Timeout: cfg.LLMTimeout, Run: deps.waitUserDecision},
		flow.Node{Stage: flow.StageValidateDecision, Progress: 50, Timeout: cfg.LLMTimeout, Retry: llmRetry, Run: deps.validateDecision},
		flow.Node{Stage: flow.StageWarnUser, Progress: 50, Timeout: cfg.LLMTimeout, Run: deps.warnUser},
		flow.Node{Stage: flow.StageParseCode, Progress: 55, Timeout: cfg.ParseTimeout, Run: deps.parseCode},
		flow.Node{Stage: flow.StageInferAPI, Progress: 60, Timeout: cfg.LLMTimeout, Retry: llmRetry, Run: deps.inferAPI},
		flow.Node{Stage: flow.StageGenerateTRD, Progress: 70, Timeout: cfg.ParseTimeout, Retry: llmRetry, Run: deps.generateTRD},
		flow.Node{Stage: flow.StageValidateTRD, Progress: 72, Timeout: cfg.LLMTimeout, Retry: llmRetry, Run: deps.validateTRD},
		flow.Node{Stage: flow.StageGenerateAPISpec, Progress: 80, Timeout: cfg.LLMTimeout, Run: deps.generateAPISpec},
		flow.Node{Stage: flow.StageGenerateDBSchema, Progress: 85, Timeout: cfg.ParseTimeout, Retry: llmRetry, Run: deps.generateDBSchema},
		flow.Node{Stage: flow.StageGenerateDBERD, Progress: 87, Timeout: cfg.LLMTimeout, Run: deps.generateDBERD},
		flow.Node{Stage: flow.StageGenerateArchitecture, Progress: 90, Timeout: cfg.ParseTimeout, Run: deps.generateArchitecture},
		flow.Node{Stage: flow.StageValidateArchitecture, Progress: 92, Timeout: cfg.LLMTimeout, Run: deps.validateArchitecture},
		flow.Node{Stage: flow.StageGenerateTechStackDoc, Progress: 95, Timeout: cfg.LLMTimeout, Run: deps.generateTechStackDoc},
		flow.Node{Stage: flow.StageSave, Progress: 98, Timeout: cfg.LLMTimeout, Run: deps.save},
		flow.Node{Stage: flow.StageNotify, Progress: 100, Timeout: cfg.LLMTimeout, Run: deps.notify},
	)
}

// complete wraps the LLM call with usage accounting and kind
// classification.
func (d Deps) complete(ctx context.Context, stage flow.Stage, req model.Request) (model.Response, error) {
	resp, err := d.Completer.Complete(ctx, req)
	if err != nil {
		return model.Response{}, &flow.NodeError{
			Stage: stage,
			Kind:  flow.KindExternalServiceError,
			Err:   err,
		}
	}
	d.Usage.Record(string(stage), resp)
	return resp, nil
}
