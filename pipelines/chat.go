package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/notesmith-ai/notesmith/flow"
	"github.com/notesmith-ai/notesmith/model"
	"github.com/notesmith-ai/notesmith/types"
)

const defaultChatSystemPrompt = "You are a helpful assistant for a personal knowledge workspace. Answer from the conversation so far; say so when you do not know."

// Chat appends the user's turn to the session history, generates a reply
// with the full history as context, and appends the assistant's turn. The
// pipeline is resumable: history lives in the session checkpoint and grows
// by exactly two messages per successful turn.
func Chat(deps Deps) (*flow.Pipeline, error) {
	if deps.Provisioner == nil {
		return nil, fmt.Errorf("model provisioner is required")
	}

	return flow.Compile(flow.Definition{
		Name:      NameChat,
		Resumable: true,
		Inputs:    []string{FieldUserInput, FieldMessages, FieldSystemPrompt, FieldModelOverride},
		Steps: []flow.Step{
			{
				Name:   "append_user",
				Reads:  []string{FieldUserInput, FieldMessages},
				Writes: []string{FieldMessages},
				Run: func(ctx context.Context, st *flow.State) error {
					input := strings.TrimSpace(st.String(FieldUserInput))
					if input == "" {
						return fmt.Errorf("field %q is required", FieldUserInput)
					}
					messages, _ := flow.Field[[]types.Message](st, FieldMessages)
					st.Set(FieldMessages, append(messages, types.Message{
						Role:    types.RoleUser,
						Content: input,
					}))
					return nil
				},
			},
			{
				Name:   "generate",
				Reads:  []string{FieldMessages, FieldSystemPrompt, FieldModelOverride},
				Writes: []string{FieldReply, FieldProviderID, FieldUsage},
				Run: func(ctx context.Context, st *flow.State) error {
					messages, _ := flow.Field[[]types.Message](st, FieldMessages)
					systemPrompt := st.String(FieldSystemPrompt)
					if systemPrompt == "" {
						systemPrompt = defaultChatSystemPrompt
					}
					resp, providerID, err := generateWithFallback(ctx, deps.Provisioner,
						model.SelectionRequest{
							TaskKind:        "chat",
							Modality:        model.ModalityText,
							EstimatedTokens: types.EstimateMessagesTokens(messages) + types.EstimateTokens(systemPrompt),
							Override:        st.String(FieldModelOverride),
						},
						types.Request{
							SystemPrompt: systemPrompt,
							Messages:     messages,
						})
					if err != nil {
						return err
					}
					st.Set(FieldReply, resp.Message)
					st.Set(FieldProviderID, providerID)
					if resp.Usage != nil {
						st.Set(FieldUsage, resp.Usage)
					}
					return nil
				},
			},
			{
				Name:   "append_assistant",
				Reads:  []string{FieldMessages, FieldReply},
				Writes: []string{FieldMessages},
				Run: func(ctx context.Context, st *flow.State) error {
					reply, ok := flow.Field[types.Message](st, FieldReply)
					if !ok {
						return fmt.Errorf("field %q is missing", FieldReply)
					}
					messages, _ := flow.Field[[]types.Message](st, FieldMessages)
					st.Set(FieldMessages, append(messages, reply))
					return nil
				},
			},
		},
	})
}
