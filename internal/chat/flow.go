package chat

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docsage/docsage/internal/rewrite"
	"github.com/docsage/docsage/wire"
)

// FlowName is the registered name of the chat flow in Genkit.
const FlowName = "docsage/chat"

// FlowInput is the input schema for the chat flow.
type FlowInput struct {
	UserID   string            `json:"userId"`
	Messages []rewrite.Message `json:"messages"`
}

// FlowOutput is one completed turn: the full answer text plus the
// citations derived from the evidence bundle.
type FlowOutput struct {
	Response  string          `json:"response"`
	Citations []wire.Citation `json:"citations,omitempty"`
}

// Flow is the chat pipeline registered as a Genkit streaming flow.
type Flow = core.Flow[FlowInput, FlowOutput, string]

// DefineFlow registers the pipeline as a streaming flow so full turns
// can be invoked and traced from the Genkit developer UI. The HTTP
// layer calls Respond directly; the flow is an observability surface,
// not a second transport. Note admission is the API layer's job, so
// flow invocations bypass the rate gate.
//
// Registering the same name twice on one Genkit instance panics; call
// this once per instance.
func DefineFlow(g *genkit.Genkit, p *Pipeline) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input FlowInput, streamCb func(context.Context, string) error) (FlowOutput, error) {
			reply, err := p.Respond(ctx, input.UserID, input.Messages)
			if err != nil {
				return FlowOutput{}, err
			}

			var sb strings.Builder
			for text, streamErr := range reply.Stream {
				if streamErr != nil {
					return FlowOutput{}, streamErr
				}
				sb.WriteString(text)
				// streamCb is nil when invoked via Run instead of
				// Stream; collecting the full text still works.
				if streamCb != nil {
					if cbErr := streamCb(ctx, text); cbErr != nil {
						return FlowOutput{}, cbErr
					}
				}
			}

			return FlowOutput{
				Response:  sb.String(),
				Citations: reply.Citations,
			}, nil
		},
	)
}
