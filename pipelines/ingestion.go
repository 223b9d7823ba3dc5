package pipelines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notesmith-ai/notesmith/content"
	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/state"
	"github.com/notesmith-ai/notesmith/types"
)

// JobKindEmbed is the work item kind produced by the ingestion pipeline's
// async embed step and consumed by EmbedHandler.
const JobKindEmbed = "embed"

// Source is the persisted record of one ingested piece of content.
type Source struct {
	ID         string    `json:"id"`
	Ref        string    `json:"ref,omitempty"`
	Text       string    `json:"text"`
	EmbedJobID string    `json:"embedJobId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SourceKey returns the record key a source is stored under.
func SourceKey(id string) string { return "source:" + id }

// Ingestion extracts text from the input, applies the caller's chosen
// transformations, hands embedding off to the worker, and persists the
// source record. The run returns as soon as the embed job is queued.
func Ingestion(deps Deps) (*flow.Pipeline, error) {
	if deps.Extractor == nil {
		return nil, fmt.Errorf("content extractor is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}

	return flow.Compile(flow.Definition{
		Name:   NameIngestion,
		Inputs: []string{FieldInput, FieldTransformations, FieldModelOverride},
		Steps: []flow.Step{
			{
				Name:   "extract",
				Reads:  []string{FieldInput},
				Writes: []string{FieldSourceID, FieldSourceRef, FieldText},
				Run: func(ctx context.Context, st *flow.State) error {
					input, ok := flow.Field[content.Input](st, FieldInput)
					if !ok {
						return fmt.Errorf("field %q is required", FieldInput)
					}
					text, err := deps.Extractor.Extract(ctx, input)
					if err != nil {
						return err
					}
					if strings.TrimSpace(text) == "" {
						return fmt.Errorf("no text extracted from %q", input.Ref())
					}
					st.Set(FieldSourceID, uuid.NewString())
					st.Set(FieldSourceRef, input.Ref())
					st.Set(FieldText, text)
					return nil
				},
			},
			{
				Name:   "transform",
				Reads:  []string{FieldText, FieldTransformations, FieldModelOverride},
				Writes: []string{FieldText},
				Run: func(ctx context.Context, st *flow.State) error {
					names, _ := flow.Field[[]string](st, FieldTransformations)
					if len(names) == 0 {
						return nil
					}
					text := st.String(FieldText)
					for _, name := range names {
						spec, ok := LookupTransformation(name)
						if !ok {
							return fmt.Errorf("unknown transformation %q (available: %s)",
								name, strings.Join(TransformationNames(), ", "))
						}
						resp, _, err := generateWithFallback(ctx, deps.Provisioner,
							model.SelectionRequest{
								TaskKind:        "transform",
								Modality:        model.ModalityText,
								EstimatedTokens: types.EstimateTokens(text) + types.EstimateTokens(spec.SystemPrompt),
								Override:        st.String(FieldModelOverride),
							},
							types.Request{
								SystemPrompt: spec.SystemPrompt,
								Messages:     []types.Message{{Role: types.RoleUser, Content: text}},
							})
						if err != nil {
							return fmt.Errorf("transformation %q failed: %w", name, err)
						}
						text = resp.Message.Content
					}
					st.Set(FieldText, text)
					return nil
				},
			},
			{
				Name:   "embed",
				Reads:  []string{FieldSourceID, FieldText},
				Writes: []string{FieldJobID},
				Async: &flow.AsyncSpec{
					JobKind: JobKindEmbed,
					InputRef: func(st *flow.State) string {
						return SourceKey(st.String(FieldSourceID))
					},
					Payload: func(st *flow.State) map[string]any {
						return map[string]any{
							"source_id":     st.String(FieldSourceID),
							"text":          st.String(FieldText),
							"chunk_size":    deps.chunkSize(),
							"chunk_overlap": deps.chunkOverlap(),
						}
					},
					OutputField: FieldJobID,
				},
			},
			{
				Name:  "persist",
				Reads: []string{FieldSourceID, FieldSourceRef, FieldText, FieldJobID},
				Run: func(ctx context.Context, st *flow.State) error {
					src := Source{
						ID:         st.String(FieldSourceID),
						Ref:        st.String(FieldSourceRef),
						Text:       st.String(FieldText),
						EmbedJobID: st.String(FieldJobID),
						CreatedAt:  time.Now().UTC(),
					}
					if err := state.PutJSON(ctx, deps.Store, state.KindSource, SourceKey(src.ID), src); err != nil {
						return fmt.Errorf("failed to persist source %q: %w", src.ID, err)
					}
					return nil
				},
			},
		},
	})
}
