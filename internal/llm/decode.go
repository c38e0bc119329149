package llm

import (
	"encoding/json"
	"strings"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// wireToolCall, wireFunctionCall, wireMessage, wireChoice, and wireResponse
// mirror the chat/completions JSON shape directly, independent of whatever
// the go-openai SDK's own response struct chooses to populate — this is
// what lets the model_dump()-omits-arguments fallback (spec.md §4.5 case 5)
// be a non-issue here: the argument string is read straight off the wire
// bytes, never through an intermediate SDK field.
type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireReasoningSeg struct {
	Type               string `json:"type"`
	Text               string `json:"text"`
	LeadingWhitespace  string `json:"leading_whitespace"`
	TrailingWhitespace string `json:"trailing_whitespace"`
}

type wireMessage struct {
	Role      string             `json:"role"`
	Content   *string            `json:"content"`
	ToolCalls []wireToolCall     `json:"tool_calls"`
	Reasoning []wireReasoningSeg `json:"reasoning"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
}

// harmonyFunctionCall is one function_call item in a Harmony-style
// response (spec.md §4.5 case 4).
type harmonyFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

type harmonyItem struct {
	Type         string               `json:"type"`
	Message      *wireMessage         `json:"message"`
	FunctionCall *harmonyFunctionCall `json:"function_call"`
}

type harmonyResponse struct {
	Output []harmonyItem `json:"output"`
}

// decodeResponse turns one raw chat/completions (or Harmony-style
// responses) body into the engine's neutral LLMResponse, reconstructing
// tool-call arguments under every degraded encoding spec.md §4.5 names.
func decodeResponse(body []byte) (*contract.LLMResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Choices) > 0 {
		return messageToLLMResponse(resp.Choices[0].Message)
	}

	var harmony harmonyResponse
	if err := json.Unmarshal(body, &harmony); err == nil && len(harmony.Output) > 0 {
		return harmonyToLLMResponse(harmony)
	}

	return nil, contract.NewError(contract.ErrValidation, "llm response did not match any known shape", map[string]any{"raw": string(body)})
}

func messageToLLMResponse(msg wireMessage) (*contract.LLMResponse, error) {
	result := &contract.LLMResponse{Content: msg.Content}
	for _, seg := range msg.Reasoning {
		result.Reasoning = append(result.Reasoning, contract.ReasoningSeg{
			Type:               seg.Type,
			Text:               seg.Text,
			LeadingWhitespace:  seg.LeadingWhitespace,
			TrailingWhitespace: seg.TrailingWhitespace,
		})
	}
	for _, tc := range msg.ToolCalls {
		args, err := reconstructArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = append(result.ToolCalls, contract.ToolCallAsk{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

func harmonyToLLMResponse(resp harmonyResponse) (*contract.LLMResponse, error) {
	result := &contract.LLMResponse{}
	for _, item := range resp.Output {
		switch {
		case item.Message != nil:
			if item.Message.Content != nil {
				if result.Content == nil {
					result.Content = item.Message.Content
				} else {
					merged := *result.Content + *item.Message.Content
					result.Content = &merged
				}
			}
			for _, seg := range item.Message.Reasoning {
				result.Reasoning = append(result.Reasoning, contract.ReasoningSeg{
					Type:               seg.Type,
					Text:               seg.Text,
					LeadingWhitespace:  seg.LeadingWhitespace,
					TrailingWhitespace: seg.TrailingWhitespace,
				})
			}
		case item.FunctionCall != nil:
			args, err := reconstructArguments(item.FunctionCall.Arguments)
			if err != nil {
				return nil, err
			}
			result.ToolCalls = append(result.ToolCalls, contract.ToolCallAsk{
				ID:        item.FunctionCall.CallID,
				Name:      item.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	return result, nil
}

// reconstructArguments recovers a tool call's JSON object arguments from
// whatever string shape the wire actually delivered (spec.md §4.5 cases
// 1, 2, and 5 all collapse to this point once the raw bytes are in hand;
// case 3's concatenation happens in readStream before this runs; case 4
// routes through here via harmonyToLLMResponse).
func reconstructArguments(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}

	// Case: already a bare JSON object — the common, well-behaved shape.
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	// Case: double-encoded — the arguments arrived as a JSON string whose
	// content is itself JSON (e.g. an SDK object serialized via __str__).
	var asString string
	if err := json.Unmarshal([]byte(trimmed), &asString); err == nil {
		innerTrimmed := strings.TrimSpace(asString)
		if strings.HasPrefix(innerTrimmed, "{") && json.Valid([]byte(innerTrimmed)) {
			return json.RawMessage(innerTrimmed), nil
		}
	}

	// Case: a Python-repr-style object using single quotes instead of
	// double quotes, seen from some __str__ implementations.
	if candidate := pythonReprToJSON(trimmed); candidate != "" && json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	return nil, contract.NewError(contract.ErrValidation, "failed to parse tool call arguments", map[string]any{"raw": raw})
}

func pythonReprToJSON(s string) string {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ""
	}
	return strings.ReplaceAll(s, "'", "\"")
}
