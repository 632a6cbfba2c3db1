package chat_test

import (
	"context"
	"testing"

	"github.com/docsage/docsage/internal/chat"
	"github.com/docsage/docsage/internal/evidence"
	"github.com/docsage/docsage/internal/testutil"
)

func TestFlow_StreamsChunksAndOutput(t *testing.T) {
	f := newFixture(t)
	f.fuser.bundle = &evidence.Bundle{
		Chunks: []evidence.Chunk{{Text: "evidence", SourceDocument: "a.pdf", Score: 0.75}},
		Citations: []evidence.Citation{
			{Filename: "a.pdf", SimilarityPct: 75, Preview: "evidence"},
		},
	}

	g := testutil.NewGenkit(t)
	flow := chat.DefineFlow(g, f.pipeline)

	var chunks []string
	var out chat.FlowOutput
	done := false
	input := chat.FlowInput{UserID: "user-1", Messages: turn("question")}
	for sv, err := range flow.Stream(context.Background(), input) {
		if err != nil {
			t.Fatalf("flow stream yielded error: %v", err)
		}
		if sv.Done {
			out = sv.Output
			done = true
			continue
		}
		chunks = append(chunks, sv.Stream)
	}

	if !done {
		t.Fatal("stream ended without a final output value")
	}
	if len(chunks) != 2 || chunks[0] != "generated " || chunks[1] != "answer" {
		t.Errorf("chunks = %q, want the synthesizer's two increments", chunks)
	}
	if out.Response != "generated answer" {
		t.Errorf("response = %q", out.Response)
	}
	if len(out.Citations) != 1 || out.Citations[0].Similarity != "75" {
		t.Errorf("citations = %+v, want one with stringified percent", out.Citations)
	}
	if f.synth.calls != 1 {
		t.Errorf("synthesizer calls = %d, want 1", f.synth.calls)
	}
}

// A pipeline failure must surface as a flow error span, not a silent
// empty output.
func TestFlow_PipelineErrorPropagates(t *testing.T) {
	f := newFixture(t)
	g := testutil.NewGenkit(t)
	flow := chat.DefineFlow(g, f.pipeline)

	var sawErr error
	for _, err := range flow.Stream(context.Background(), chat.FlowInput{UserID: "user-1"}) {
		if err != nil {
			sawErr = err
			break
		}
	}
	if sawErr == nil {
		t.Error("flow with empty history yielded no error, want failure")
	}
}
