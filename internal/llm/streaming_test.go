package llm

import (
	"strings"
	"testing"
)

func TestReadStreamCoalescesContentAndToolCallFragments(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_requirement","arguments":"{\"ri"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"d\":\"SYS-1\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
		"",
	}, "\n\n")

	var deltas []string
	body, err := readStream(strings.NewReader(sse), func(text string) { deltas = append(deltas, text) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := decodeResponse(body)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if resp.Content == nil || *resp.Content != "Hello" {
		t.Fatalf("expected coalesced content Hello, got %#v", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls: %#v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[0].Arguments) != `{"rid":"SYS-1"}` {
		t.Fatalf("expected reconstructed arguments, got %s", resp.ToolCalls[0].Arguments)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("expected onDelta to fire per content fragment, got %#v", deltas)
	}
}
