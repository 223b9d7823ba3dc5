// Package pipelines wires the four built-in graphs: ingestion, chat, ask,
// and transform. Each is a declarative flow definition whose steps consult
// the model provisioner and, for deferred work, the job queue.
package pipelines

import (
	"fmt"

	"github.com/notesmith-ai/notesmith/content"
	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/retrieval"
	"github.com/notesmith-ai/notesmith/state"
)

// Pipeline names as registered with the engine facade.
const (
	NameIngestion = "ingestion"
	NameChat      = "chat"
	NameAsk       = "ask"
	NameTransform = "transform"
)

// State field names shared between steps, the engine facade, and callers.
const (
	FieldInput           = "input"
	FieldSourceID        = "source_id"
	FieldSourceRef       = "source_ref"
	FieldText            = "extracted_text"
	FieldTransformations = "transformations"
	FieldJobID           = "job_id"

	FieldUserInput    = "user_input"
	FieldSystemPrompt = "system_prompt"
	FieldMessages     = "messages"
	FieldReply        = "reply"

	FieldQuestion  = "question"
	FieldChunks    = "retrieved_chunks"
	FieldAnswer    = "answer"
	FieldCitations = "citations"

	FieldTransformation = "transformation"
	FieldOutput         = "output"

	FieldModelOverride = "model_override"
	FieldProviderID    = "provider_id"
	FieldUsage         = "usage"
)

const (
	defaultChunkSize    = 200
	defaultChunkOverlap = 20
)

// Deps carries the collaborators the pipeline steps close over.
type Deps struct {
	Provisioner *model.Provisioner
	Extractor   *content.Extractor
	Retriever   *retrieval.Retriever
	Store       state.Store

	ChunkSize    int
	ChunkOverlap int
}

func (d Deps) chunkSize() int {
	if d.ChunkSize > 0 {
		return d.ChunkSize
	}
	return defaultChunkSize
}

func (d Deps) chunkOverlap() int {
	if d.ChunkOverlap > 0 {
		return d.ChunkOverlap
	}
	return defaultChunkOverlap
}

// All compiles every built-in pipeline.
func All(deps Deps) (map[string]*flow.Pipeline, error) {
	out := map[string]*flow.Pipeline{}
	for _, build := range []struct {
		name string
		fn   func(Deps) (*flow.Pipeline, error)
	}{
		{NameIngestion, Ingestion},
		{NameChat, Chat},
		{NameAsk, Ask},
		{NameTransform, Transform},
	} {
		p, err := build.fn(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build pipeline %q: %w", build.name, err)
		}
		out[build.name] = p
	}
	return out, nil
}
