package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// wireDelta mirrors one streamed choice delta's JSON shape directly (rather
// than an SDK type) so a tool-call fragment's arguments string is always
// available to reconstructArguments verbatim, whatever the field ends up
// looking like once assembled.
type wireDelta struct {
	Content   string             `json:"content"`
	ToolCalls []wireToolCallDiff `json:"tool_calls"`
}

type wireToolCallDiff struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireStreamChoice struct {
	Delta        wireDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type wireStreamChunk struct {
	Choices []wireStreamChoice `json:"choices"`
}

// streamedToolCall accumulates one tool call's fragments across chunks,
// keyed by its stream index (spec.md §4.5 case 3: "concatenate all
// function.arguments fragments for the same (id, index) pair in arrival
// order").
type streamedToolCall struct {
	id        string
	name      string
	argsBuf   strings.Builder
}

// readStream consumes an SSE-framed chat/completions stream, coalescing it
// into one synthesized non-streaming response body so the rest of the
// decode pipeline (decodeResponse) never has to know the request was
// streamed.
func readStream(body io.Reader, onDelta OnDelta) ([]byte, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var content strings.Builder
	toolCalls := make(map[int]*streamedToolCall)
	order := make([]int, 0, 4)
	finishReason := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			entry, ok := toolCalls[idx]
			if !ok {
				entry = &streamedToolCall{}
				toolCalls[idx] = entry
				order = append(order, idx)
			}
			if tc.ID != "" {
				entry.id = tc.ID
			}
			if tc.Function.Name != "" {
				entry.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				entry.argsBuf.WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	msg := wireMessage{Role: "assistant"}
	if content.Len() > 0 {
		text := content.String()
		msg.Content = &text
	}
	for _, idx := range order {
		tc := toolCalls[idx]
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   tc.id,
			Type: "function",
			Function: wireFunctionCall{
				Name:      tc.name,
				Arguments: tc.argsBuf.String(),
			},
		})
	}

	synthesized := wireResponse{
		Choices: []wireChoice{{Message: msg, FinishReason: finishReason}},
	}
	return json.Marshal(synthesized)
}
