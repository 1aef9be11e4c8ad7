package eventcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/R3E-Network/integration_layer/domain/contexts"
	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/pipeline"
	"github.com/R3E-Network/integration_layer/infrastructure/errors"
	"github.com/R3E-Network/integration_layer/infrastructure/jsruntime"
	"github.com/R3E-Network/integration_layer/pkg/logger"
)

const transformerEntry = "transform"

// Dispatcher walks one event through the context state machines.
type Dispatcher struct {
	Contexts ContextStore
	Events   EventStore
	Control  ControlDataStore
	JS       *jsruntime.Runtime
	Log      *logger.Logger

	// Destination retry policy.
	MaxRetries     uint64
	InitialBackoff time.Duration
}

func (d *Dispatcher) js() *jsruntime.Runtime {
	if d.JS == nil {
		d.JS = jsruntime.New(0)
	}
	return d.JS
}

func (d *Dispatcher) persistRoot(ctx context.Context, root contexts.RootContext) error {
	return d.Contexts.Set(ctx, contexts.Root(root))
}

func (d *Dispatcher) persistPipeline(ctx context.Context, pctx contexts.PipelineContext) error {
	return d.Contexts.Set(ctx, contexts.PipelineCtx(pctx))
}

func (d *Dispatcher) persistExtractor(ctx context.Context, ectx contexts.ExtractorContext) error {
	return d.Contexts.Set(ctx, contexts.ExtractorCtx(ectx))
}

// ProcessContext drives the root context to a terminal state. Failed and
// dropped transitions still persist a context so observers can reconstruct
// the trail.
func (d *Dispatcher) ProcessContext(ctx context.Context, root contexts.RootContext) error {
	for !root.IsComplete() {
		next, err := d.advanceRoot(ctx, root)
		if persistErr := d.persistRoot(ctx, next); persistErr != nil {
			return fmt.Errorf("persist root context: %w", persistErr)
		}
		if err != nil {
			return err
		}
		root = next
	}
	return nil
}

// advanceRoot performs exactly one root transition.
func (d *Dispatcher) advanceRoot(ctx context.Context, root contexts.RootContext) (contexts.RootContext, error) {
	root.Timestamp = time.Now().UTC()

	evt, err := d.Events.Get(ctx, root.EventKey)
	if err != nil {
		root.Status = contexts.Failed("could not fetch event: " + err.Error())
		return root, err
	}

	switch root.Stage.Kind {
	case contexts.RootStageNew:
		ok, err := d.Control.VerifyEvent(ctx, evt)
		if err != nil {
			root.Status = contexts.Failed("could not verify event: " + err.Error())
			return root, err
		}
		if !ok {
			root.Status = contexts.Dropped("event did not verify")
			return root, nil
		}
		root.Stage = contexts.RootStage{Kind: contexts.RootStageVerified}

	case contexts.RootStageVerified:
		duplicates, err := d.Events.GetDuplicates(ctx, evt)
		if err != nil {
			root.Status = contexts.Failed("could not get duplicates: " + err.Error())
			return root, err
		}
		if err := d.Events.Set(ctx, evt.WithDuplicates(duplicates)); err != nil {
			root.Status = contexts.Failed("could not persist duplicates: " + err.Error())
			return root, err
		}
		root.Stage = contexts.RootStage{Kind: contexts.RootStageProcessedDuplicates}

	case contexts.RootStageProcessedDuplicates:
		pipelines, err := d.Control.GetPipelines(ctx, evt)
		if err != nil {
			root.Status = contexts.Failed("could not get pipelines: " + err.Error())
			return root, err
		}
		pipelineContexts := make(map[string]contexts.PipelineContext, len(pipelines))
		for _, p := range pipelines {
			pipelineContexts[p.ID.String()] = contexts.NewPipelineContext(p.ID.String(), root)
		}
		root.Stage = contexts.RootStage{
			Kind:      contexts.RootStageProcessingPipelines,
			Pipelines: pipelineContexts,
		}

	case contexts.RootStageProcessingPipelines:
		// Persisted snapshots share the stage map; never mutate it in place.
		for _, pctx := range root.Stage.Pipelines {
			if pctx.IsComplete() {
				continue
			}
			d.processPipeline(ctx, evt, pctx)
		}
		root.Stage = contexts.RootStage{Kind: contexts.RootStageFinished}
	}

	return root, nil
}

// processPipeline drives one pipeline context to completion, persisting each
// transition.
func (d *Dispatcher) processPipeline(ctx context.Context, evt event.Event, pctx contexts.PipelineContext) contexts.PipelineContext {
	var p pipeline.Pipeline

	for !pctx.IsComplete() {
		next, loaded, err := d.advancePipeline(ctx, evt, p, pctx)
		p = loaded
		if persistErr := d.persistPipeline(ctx, next); persistErr != nil {
			d.Log.WithContext(ctx).WithError(persistErr).Error("could not persist pipeline context")
		}
		if err != nil {
			d.Log.WithContext(ctx).WithError(err).Warn("pipeline processing failed")
		}
		pctx = next
	}
	return pctx
}

func (d *Dispatcher) advancePipeline(ctx context.Context, evt event.Event, p pipeline.Pipeline, pctx contexts.PipelineContext) (contexts.PipelineContext, pipeline.Pipeline, error) {
	pctx.Timestamp = time.Now().UTC()

	// The pipeline definition is fetched on the first transition and reused
	// afterwards.
	if p.ID.IsZero() {
		loaded, err := d.Control.GetPipeline(ctx, pctx.PipelineKey)
		if err != nil {
			pctx.Status = contexts.Failed("could not get pipeline: " + err.Error())
			return pctx, p, err
		}
		p = loaded
	}

	switch pctx.Stage.Kind {
	case contexts.PipelineStageNew:
		extractorContexts := make(map[string]contexts.ExtractorContext, len(p.Config.Extractors))
		for _, extractor := range p.Config.Extractors {
			extractorContexts[extractor.Key] = contexts.NewExtractorContext(extractor.Key, pctx)
		}
		pctx.Stage = contexts.PipelineStage{
			Kind:       contexts.PipelineStageExecutingExtractors,
			Extractors: extractorContexts,
		}

	case contexts.PipelineStageExecutingExtractors:
		results := d.runExtractors(ctx, p, pctx)
		pctx.Stage = contexts.PipelineStage{
			Kind:    contexts.PipelineStageExecutedExtractors,
			Results: results,
		}

	case contexts.PipelineStageExecutedExtractors:
		transformed, err := d.runTransformer(ctx, p, pctx.Stage.Results)
		if err != nil {
			pctx.Status = contexts.Failed("transformer failed: " + err.Error())
			return pctx, p, err
		}
		pctx.Stage = contexts.PipelineStage{
			Kind:        contexts.PipelineStageExecutedTransformer,
			Transformed: transformed,
		}

	case contexts.PipelineStageExecutedTransformer:
		tx, err := d.sendToDestination(ctx, evt, p, pctx.Stage.Transformed)
		pctx.Transaction = &tx
		if recordErr := d.Control.RecordTransaction(ctx, tx); recordErr != nil {
			d.Log.WithContext(ctx).WithError(recordErr).Error("could not record transaction")
		}
		if err != nil {
			pctx.Status = contexts.Failed("destination failed: " + err.Error())
			return pctx, p, err
		}
		pctx.Stage = contexts.PipelineStage{Kind: contexts.PipelineStageFinishedPipeline}
	}

	return pctx, p, nil
}

// runExtractors executes all extractors in parallel. One extractor's failure
// does not abort its siblings; only successful values feed the transformer.
func (d *Dispatcher) runExtractors(ctx context.Context, p pipeline.Pipeline, pctx contexts.PipelineContext) map[string]json.RawMessage {
	results := make(map[string]json.RawMessage)
	if len(p.Config.Extractors) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, extractor := range p.Config.Extractors {
		wg.Add(1)
		go func(extractor pipeline.HttpExtractor) {
			defer wg.Done()

			ectx := pctx.Stage.Extractors[extractor.Key]
			ectx.Stage = contexts.ExtractorStage{Kind: contexts.ExtractorStageExecuting}
			ectx.Timestamp = time.Now().UTC()
			if err := d.persistExtractor(ctx, ectx); err != nil {
				d.Log.WithContext(ctx).WithError(err).Error("could not persist extractor context")
			}

			value, err := d.Control.ExecuteExtractor(ctx, extractor)
			if err != nil {
				ectx.Stage = contexts.ExtractorStage{Kind: contexts.ExtractorStageFailed, Error: err.Error()}
				ectx.Status = contexts.Failed(err.Error())
			} else {
				ectx.Stage = contexts.ExtractorStage{Kind: contexts.ExtractorStageExecuted, Value: value}
				mu.Lock()
				results[extractor.Key] = value
				mu.Unlock()
			}
			ectx.Timestamp = time.Now().UTC()
			if err := d.persistExtractor(ctx, ectx); err != nil {
				d.Log.WithContext(ctx).WithError(err).Error("could not persist extractor context")
			}
		}(extractor)
	}
	wg.Wait()
	return results
}

// runTransformer reduces extractor outputs into the destination payload.
// Without a transformer the destination receives no payload override.
func (d *Dispatcher) runTransformer(ctx context.Context, p pipeline.Pipeline, results map[string]json.RawMessage) (*json.RawMessage, error) {
	transformer := p.Transformer()
	if transformer == nil {
		return nil, nil
	}

	namespace := p.ID.String() + "::transformer"
	if !d.js().Has(namespace) {
		entry := transformer.Entry
		if entry == "" {
			entry = transformerEntry
		}
		if err := d.js().Create(namespace, entry, transformer.Function); err != nil {
			return nil, err
		}
	}

	var out json.RawMessage
	if err := d.js().Run(ctx, namespace, results, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// sendToDestination performs the terminal action with exponential backoff on
// retriable errors and returns the transaction to record.
func (d *Dispatcher) sendToDestination(ctx context.Context, evt event.Event, p pipeline.Pipeline, payload *json.RawMessage) (contexts.Transaction, error) {
	input := ""
	if payload != nil {
		input = string(*payload)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(d.initialBackoff())),
		d.maxRetries(),
	), ctx)

	var output string
	operation := func() error {
		result, err := d.Control.SendToDestination(ctx, evt, p, payload)
		if err != nil {
			if errors.IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		output = result
		return nil
	}

	txKey := fmt.Sprintf("%s::%s", evt.Key, p.Key)
	if err := backoff.Retry(operation, policy); err != nil {
		return contexts.FailedTransaction(&evt, txKey, input, err.Error()), err
	}
	return contexts.CompletedTransaction(&evt, txKey, input, output), nil
}

func (d *Dispatcher) maxRetries() uint64 {
	if d.MaxRetries == 0 {
		return 3
	}
	return d.MaxRetries
}

func (d *Dispatcher) initialBackoff() time.Duration {
	if d.InitialBackoff == 0 {
		return 500 * time.Millisecond
	}
	return d.InitialBackoff
}
