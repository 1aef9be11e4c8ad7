// Package contexts holds the progress records written after every event
// dispatch transition. Contexts form a tree rooted at the event id: one root
// context, one pipeline context per matched pipeline, one extractor context
// per extractor.
package contexts

import (
	"encoding/json"
	"time"

	"github.com/R3E-Network/integration_layer/domain/id"
)

// StatusKind is the coarse outcome of a context.
type StatusKind string

const (
	StatusSucceeded StatusKind = "Succeeded"
	StatusFailed    StatusKind = "Failed"
	StatusDropped   StatusKind = "Dropped"
)

// Status pairs an outcome with an optional explanation.
type Status struct {
	Kind    StatusKind `json:"kind" bson:"kind"`
	Message string     `json:"message,omitempty" bson:"message,omitempty"`
}

func Succeeded() Status             { return Status{Kind: StatusSucceeded} }
func Failed(message string) Status  { return Status{Kind: StatusFailed, Message: message} }
func Dropped(message string) Status { return Status{Kind: StatusDropped, Message: message} }

// RootStageKind enumerates root context progress.
type RootStageKind string

const (
	RootStageNew                 RootStageKind = "New"
	RootStageVerified            RootStageKind = "Verified"
	RootStageProcessedDuplicates RootStageKind = "ProcessedDuplicates"
	RootStageProcessingPipelines RootStageKind = "ProcessingPipelines"
	RootStageFinished            RootStageKind = "Finished"
)

// RootStage is the root progress marker; the pipelines map is populated only
// in the ProcessingPipelines stage.
type RootStage struct {
	Kind      RootStageKind              `json:"kind" bson:"kind"`
	Pipelines map[string]PipelineContext `json:"pipelines,omitempty" bson:"pipelines,omitempty"`
}

// RootContext is the per-event state machine record.
type RootContext struct {
	EventKey  id.ID     `json:"eventKey" bson:"eventKey"`
	Stage     RootStage `json:"stage" bson:"stage"`
	Status    Status    `json:"status" bson:"status"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Transaction *Transaction `json:"transaction,omitempty" bson:"transaction,omitempty"`
}

// NewRootContext starts the state machine for an event.
func NewRootContext(eventKey id.ID) RootContext {
	return RootContext{
		EventKey:  eventKey,
		Stage:     RootStage{Kind: RootStageNew},
		Status:    Succeeded(),
		Timestamp: time.Now().UTC(),
	}
}

// IsComplete reports whether the root reached a terminal state.
func (c RootContext) IsComplete() bool {
	return c.Status.Kind == StatusDropped || c.Status.Kind == StatusFailed || c.Stage.Kind == RootStageFinished
}

// PipelineStageKind enumerates pipeline context progress.
type PipelineStageKind string

const (
	PipelineStageNew                 PipelineStageKind = "New"
	PipelineStageExecutingExtractors PipelineStageKind = "ExecutingExtractors"
	PipelineStageExecutedExtractors  PipelineStageKind = "ExecutedExtractors"
	PipelineStageExecutedTransformer PipelineStageKind = "ExecutedTransformer"
	PipelineStageFinishedPipeline    PipelineStageKind = "FinishedPipeline"
)

// PipelineStage carries the stage discriminator plus the stage-specific
// payload: running extractor contexts, their collected outputs, or the
// transformer result.
type PipelineStage struct {
	Kind        PipelineStageKind           `json:"kind" bson:"kind"`
	Extractors  map[string]ExtractorContext `json:"extractors,omitempty" bson:"extractors,omitempty"`
	Results     map[string]json.RawMessage  `json:"results,omitempty" bson:"results,omitempty"`
	Transformed *json.RawMessage            `json:"transformed,omitempty" bson:"transformed,omitempty"`
}

// PipelineContext tracks one pipeline's traversal for one event.
type PipelineContext struct {
	PipelineKey string        `json:"pipelineKey" bson:"pipelineKey"`
	EventKey    id.ID         `json:"eventKey" bson:"eventKey"`
	Stage       PipelineStage `json:"stage" bson:"stage"`
	Status      Status        `json:"status" bson:"status"`
	Timestamp   time.Time     `json:"timestamp" bson:"timestamp"`

	Transaction *Transaction `json:"transaction,omitempty" bson:"transaction,omitempty"`
}

// NewPipelineContext derives a pipeline context from its root.
func NewPipelineContext(pipelineKey string, root RootContext) PipelineContext {
	return PipelineContext{
		PipelineKey: pipelineKey,
		EventKey:    root.EventKey,
		Stage:       PipelineStage{Kind: PipelineStageNew},
		Status:      Succeeded(),
		Timestamp:   time.Now().UTC(),
	}
}

// IsComplete reports whether the pipeline reached a terminal state.
func (c PipelineContext) IsComplete() bool {
	return c.Status.Kind == StatusDropped || c.Status.Kind == StatusFailed ||
		c.Stage.Kind == PipelineStageFinishedPipeline
}

// ExtractorStageKind enumerates extractor progress.
type ExtractorStageKind string

const (
	ExtractorStageNew       ExtractorStageKind = "New"
	ExtractorStageExecuting ExtractorStageKind = "Executing"
	ExtractorStageExecuted  ExtractorStageKind = "Executed"
	ExtractorStageFailed    ExtractorStageKind = "Failed"
	ExtractorStageDropped   ExtractorStageKind = "Dropped"
)

// ExtractorStage carries the extractor result or error once terminal.
type ExtractorStage struct {
	Kind  ExtractorStageKind `json:"kind" bson:"kind"`
	Value json.RawMessage    `json:"value,omitempty" bson:"value,omitempty"`
	Error string             `json:"error,omitempty" bson:"error,omitempty"`
}

// ExtractorContext tracks one extractor invocation inside a pipeline.
type ExtractorContext struct {
	ExtractorKey string         `json:"extractorKey" bson:"extractorKey"`
	EventKey     id.ID          `json:"eventKey" bson:"eventKey"`
	Stage        ExtractorStage `json:"stage" bson:"stage"`
	Status       Status         `json:"status" bson:"status"`
	Timestamp    time.Time      `json:"timestamp" bson:"timestamp"`
}

// NewExtractorContext derives an extractor context from its pipeline.
func NewExtractorContext(extractorKey string, parent PipelineContext) ExtractorContext {
	return ExtractorContext{
		ExtractorKey: extractorKey,
		EventKey:     parent.EventKey,
		Stage:        ExtractorStage{Kind: ExtractorStageNew},
		Status:       Succeeded(),
		Timestamp:    time.Now().UTC(),
	}
}

// Kind discriminates the context sum type.
type Kind string

const (
	KindRoot      Kind = "root"
	KindPipeline  Kind = "pipeline"
	KindExtractor Kind = "extractor"
)

// Context is the tagged union persisted by the context store. Exactly one of
// the payload fields is set, matching Kind.
type Context struct {
	Kind      Kind              `json:"kind" bson:"kind"`
	Root      *RootContext      `json:"root,omitempty" bson:"root,omitempty"`
	Pipeline  *PipelineContext  `json:"pipeline,omitempty" bson:"pipeline,omitempty"`
	Extractor *ExtractorContext `json:"extractor,omitempty" bson:"extractor,omitempty"`
}

func Root(c RootContext) Context { return Context{Kind: KindRoot, Root: &c} }
func PipelineCtx(c PipelineContext) Context {
	return Context{Kind: KindPipeline, Pipeline: &c}
}
func ExtractorCtx(c ExtractorContext) Context {
	return Context{Kind: KindExtractor, Extractor: &c}
}

// EventKey returns the owning event id regardless of kind.
func (c Context) EventKey() id.ID {
	switch c.Kind {
	case KindRoot:
		return c.Root.EventKey
	case KindPipeline:
		return c.Pipeline.EventKey
	case KindExtractor:
		return c.Extractor.EventKey
	}
	return id.ID{}
}

// Discriminator separates sibling contexts of the same kind: the pipeline
// key or extractor key. Root contexts have none.
func (c Context) Discriminator() string {
	switch c.Kind {
	case KindPipeline:
		return c.Pipeline.PipelineKey
	case KindExtractor:
		return c.Extractor.ExtractorKey
	}
	return ""
}
