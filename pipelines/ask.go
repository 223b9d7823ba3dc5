package pipelines

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/retrieval"
	"github.com/notesmith-ai/notesmith/types"
)

// NoAnswer is the canned response when retrieval finds nothing to ground an
// answer on. The provider is never invoked in that case.
const NoAnswer = "I could not find anything in the workspace to answer that."

const askSystemPrompt = "Answer the question using only the numbered context passages. Cite passages as [1], [2] and so on. If the passages do not contain the answer, say so."

const maxExcerptLen = 160

// Ask retrieves the best-matching chunks for the question and branches:
// with context it synthesizes a cited answer, without context it
// short-circuits to a no-answer terminal step.
func Ask(deps Deps) (*flow.Pipeline, error) {
	if deps.Provisioner == nil {
		return nil, fmt.Errorf("model provisioner is required")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}

	return flow.Compile(flow.Definition{
		Name:   NameAsk,
		Inputs: []string{FieldQuestion, FieldModelOverride},
		Steps: []flow.Step{
			{
				Name:   "retrieve",
				Reads:  []string{FieldQuestion},
				Writes: []string{FieldChunks},
				Run: func(ctx context.Context, st *flow.State) error {
					question := strings.TrimSpace(st.String(FieldQuestion))
					if question == "" {
						return fmt.Errorf("field %q is required", FieldQuestion)
					}
					results, err := deps.Retriever.Search(ctx, question)
					if err != nil {
						return fmt.Errorf("retrieval failed: %w", err)
					}
					st.Set(FieldChunks, results)
					return nil
				},
				Branch: func(st *flow.State) string {
					chunks, _ := flow.Field[[]retrieval.Scored](st, FieldChunks)
					if len(chunks) == 0 {
						return "no_answer"
					}
					return "synthesize"
				},
				Targets: []string{"synthesize", "no_answer"},
			},
			{
				Name:   "synthesize",
				Reads:  []string{FieldQuestion, FieldChunks, FieldModelOverride},
				Writes: []string{FieldAnswer, FieldCitations, FieldProviderID},
				Run: func(ctx context.Context, st *flow.State) error {
					chunks, _ := flow.Field[[]retrieval.Scored](st, FieldChunks)
					question := st.String(FieldQuestion)

					var prompt strings.Builder
					prompt.WriteString("Context passages:\n")
					for i, scored := range chunks {
						fmt.Fprintf(&prompt, "[%d] %s\n", i+1, scored.Chunk.Text)
					}
					prompt.WriteString("\nQuestion: ")
					prompt.WriteString(question)

					resp, providerID, err := generateWithFallback(ctx, deps.Provisioner,
						model.SelectionRequest{
							TaskKind:        "ask",
							Modality:        model.ModalityText,
							EstimatedTokens: types.EstimateTokens(prompt.String()) + types.EstimateTokens(askSystemPrompt),
							Override:        st.String(FieldModelOverride),
						},
						types.Request{
							SystemPrompt: askSystemPrompt,
							Messages:     []types.Message{{Role: types.RoleUser, Content: prompt.String()}},
						})
					if err != nil {
						return err
					}

					citations := make([]types.Citation, 0, len(chunks))
					for _, scored := range chunks {
						citations = append(citations, types.Citation{
							ChunkID:  scored.Chunk.ID,
							SourceID: scored.Chunk.SourceID,
							Score:    scored.Score,
							Excerpt:  excerpt(scored.Chunk.Text),
						})
					}
					st.Set(FieldAnswer, resp.Message.Content)
					st.Set(FieldCitations, citations)
					st.Set(FieldProviderID, providerID)
					return nil
				},
				Branch:  func(st *flow.State) string { return flow.End },
				Targets: []string{flow.End},
			},
			{
				Name:   "no_answer",
				Writes: []string{FieldAnswer, FieldCitations},
				Run: func(ctx context.Context, st *flow.State) error {
					st.Set(FieldAnswer, NoAnswer)
					st.Set(FieldCitations, []types.Citation{})
					return nil
				},
			},
		},
	})
}

func excerpt(text string) string {
	if len(text) <= maxExcerptLen {
		return text
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8.
	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
