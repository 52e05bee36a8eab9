package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/scout"
	"github.com/kalambet/scout/internal/storage"
)

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

type stubMCPRetriever struct {
	result fetch.Result
	err    error
}

func (s *stubMCPRetriever) Retrieve(ctx context.Context, topic string, opts scout.Options) (fetch.Result, error) {
	if s.err != nil {
		return fetch.Result{}, s.err
	}
	return s.result, nil
}

func newMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return MCPDeps{Store: store, Runner: &stubRunner{}}, store
}

func TestMCPTeachAndListPolicies(t *testing.T) {
	deps, _ := newMCPDeps(t)

	res, err := mcpTeachPolicy(deps)(context.Background(), toolRequest(map[string]any{
		"pattern":       "bitcoin",
		"prefer_source": "coingecko",
		"avoid_cache":   true,
	}))
	if err != nil {
		t.Fatalf("teach_policy: %v", err)
	}
	if res.IsError {
		t.Fatalf("teach_policy returned error: %s", resultText(t, res))
	}

	res, err = mcpListPolicies(deps)(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("list_policies: %v", err)
	}

	var policies []struct {
		Pattern string              `json:"pattern"`
		Rules   storage.PolicyRules `json:"rules"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &policies); err != nil {
		t.Fatalf("decoding policies: %v", err)
	}
	if len(policies) != 1 || policies[0].Pattern != "bitcoin" {
		t.Fatalf("got policies %+v", policies)
	}
	if !policies[0].Rules.AvoidCache || len(policies[0].Rules.PreferSource) != 1 {
		t.Errorf("got rules %+v", policies[0].Rules)
	}
}

func TestMCPTeachPolicyRequiresPattern(t *testing.T) {
	deps, _ := newMCPDeps(t)

	res, err := mcpTeachPolicy(deps)(context.Background(), toolRequest(map[string]any{
		"prefer_source": "coingecko",
	}))
	if err != nil {
		t.Fatalf("teach_policy: %v", err)
	}
	if !res.IsError {
		t.Error("missing pattern accepted")
	}
}

func TestMCPRetrieve(t *testing.T) {
	deps, _ := newMCPDeps(t)
	deps.Retriever = &stubMCPRetriever{
		result: fetch.Found("open_meteo", "12C and clear in Oslo", 0.9),
	}

	res, err := mcpRetrieve(deps)(context.Background(), toolRequest(map[string]any{
		"topic":  "weather in oslo",
		"domain": "weather",
	}))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	var out fetch.Result
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if out.Source != "open_meteo" || out.Status != fetch.StatusFound {
		t.Errorf("got %+v", out)
	}
}

func TestMCPRetrieveNotFound(t *testing.T) {
	deps, _ := newMCPDeps(t)
	deps.Retriever = &stubMCPRetriever{err: scout.ErrNotFound}

	res, err := mcpRetrieve(deps)(context.Background(), toolRequest(map[string]any{
		"topic": "unknowable thing",
	}))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if res.IsError {
		t.Fatal("NOT_FOUND reported as a tool error")
	}
	if !strings.Contains(resultText(t, res), "NOT_FOUND") {
		t.Errorf("got %q", resultText(t, res))
	}
}

func TestMCPRetrieveEngineFault(t *testing.T) {
	deps, _ := newMCPDeps(t)
	deps.Retriever = &stubMCPRetriever{err: errors.New("disk on fire")}

	res, err := mcpRetrieve(deps)(context.Background(), toolRequest(map[string]any{
		"topic": "anything",
	}))
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !res.IsError {
		t.Error("engine fault not reported as a tool error")
	}
}
