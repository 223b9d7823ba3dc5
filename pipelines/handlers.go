package pipelines

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/notesmith-ai/notesmith/content"
	"github.com/notesmith-ai/notesmith/job"
	"github.com/notesmith-ai/notesmith/retrieval"
	"github.com/notesmith-ai/notesmith/runtime/queue"
)

type embedPayload struct {
	SourceID     string `json:"source_id"`
	Text         string `json:"text"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// EmbedHandler consumes JobKindEmbed work items: it splits the source text
// into chunks, embeds them, and persists them for retrieval. The returned
// output reference counts the chunks written.
func EmbedHandler(retriever *retrieval.Retriever) job.HandlerFunc {
	return func(ctx context.Context, item queue.Item) (string, error) {
		var payload embedPayload
		raw, err := json.Marshal(item.Payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", fmt.Errorf("failed to decode payload: %w", err)
		}
		if payload.SourceID == "" {
			return "", fmt.Errorf("payload is missing source_id")
		}
		if payload.Text == "" {
			return "", fmt.Errorf("payload is missing text")
		}

		texts := content.Split(payload.Text, payload.ChunkSize, payload.ChunkOverlap)
		chunks, err := retriever.Index(ctx, payload.SourceID, texts)
		if err != nil {
			return "", fmt.Errorf("failed to index source %q: %w", payload.SourceID, err)
		}
		return fmt.Sprintf("chunks:%s:%d", payload.SourceID, len(chunks)), nil
	}
}
