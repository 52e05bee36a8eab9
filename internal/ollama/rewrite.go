package ollama

import (
	"context"
	"fmt"
	"strings"
)

// Rewrite turns a raw retrieval summary into a conversational answer to the
// user's question. The optional hint (temporal or feedback guidance) is
// passed through to the model untouched. The model's output is returned
// verbatim and treated as final user-facing text by the caller.
func (c *Client) Rewrite(ctx context.Context, model, question, summary, sourceLabel, hint string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Answer the user's question using only the retrieved information below.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Retrieved from %s:\n%s\n", sourceLabel, summary)
	if hint != "" {
		fmt.Fprintf(&b, "\nGuidance: %s\n", hint)
	}
	b.WriteString("\nRespond in one or two sentences. Do not invent details that are not in the retrieved information.")

	return c.Chat(ctx, model, []Message{{Role: "user", Content: b.String()}})
}
