package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/types"
)

// Transform applies one named transformation to arbitrary text. A single
// step, kept as a pipeline so every operation goes through the same facade.
func Transform(deps Deps) (*flow.Pipeline, error) {
	if deps.Provisioner == nil {
		return nil, fmt.Errorf("model provisioner is required")
	}

	return flow.Compile(flow.Definition{
		Name:   NameTransform,
		Inputs: []string{FieldText, FieldTransformation, FieldModelOverride},
		Steps: []flow.Step{
			{
				Name:   "apply",
				Reads:  []string{FieldText, FieldTransformation, FieldModelOverride},
				Writes: []string{FieldOutput, FieldProviderID},
				Run: func(ctx context.Context, st *flow.State) error {
					text := strings.TrimSpace(st.String(FieldText))
					if text == "" {
						return fmt.Errorf("field %q is required", FieldText)
					}
					name := st.String(FieldTransformation)
					spec, ok := LookupTransformation(name)
					if !ok {
						return fmt.Errorf("unknown transformation %q (available: %s)",
							name, strings.Join(TransformationNames(), ", "))
					}

					resp, providerID, err := generateWithFallback(ctx, deps.Provisioner,
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
					st.Set(FieldOutput, resp.Message.Content)
					st.Set(FieldProviderID, providerID)
					return nil
				},
			},
		},
	})
}
