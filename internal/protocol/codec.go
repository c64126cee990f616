// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/rigsync/internal/blocks"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownEvent is returned for envelopes whose type is not recognised.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrMalformedEvent is returned for frames that cannot be decoded or
	// that lack a required field.
	ErrMalformedEvent = errors.New("malformed event")
)

// =============================================================================
// DECODING
// =============================================================================

type envelope struct {
	Type Kind `json:"type"`
}

// Decode parses one inbound frame.
// Local kinds are rejected: the server cannot impersonate the transport.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case KindReady:
		return Ready{}, nil
	case KindAssistantDelta:
		return decode[AssistantDelta](data)
	case KindThinkingDelta:
		return decode[ThinkingDelta](data)
	case KindToolCall:
		ev, err := decodeInto[ToolCall](data)
		if err != nil {
			return nil, err
		}
		if ev.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_call without tool_call_id", ErrMalformedEvent)
		}
		return ev, nil
	case KindToolResult:
		ev, err := decodeInto[ToolResult](data)
		if err != nil {
			return nil, err
		}
		if ev.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_result without tool_call_id", ErrMalformedEvent)
		}
		return ev, nil
	case KindTaskTraceDelta:
		ev, err := decodeInto[TaskTraceDelta](data)
		if err != nil {
			return nil, err
		}
		if ev.ToolCallID == "" {
			return nil, fmt.Errorf("%w: task_trace_delta without tool_call_id", ErrMalformedEvent)
		}
		return ev, nil
	case KindComplete:
		return decode[Complete](data)
	case KindError:
		return decode[Error](data)
	case KindContainerStatus:
		return decode[ContainerStatus](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decode[T Event](data []byte) (Event, error) {
	ev, err := decodeInto[T](data)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeInto[T Event](data []byte) (T, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// Encode renders an event as a typed envelope. The server side of tests and
// the local echo tooling use it; the client never sends inbound kinds.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	head := []byte(fmt.Sprintf(`{"type":%q`, ev.Kind()))
	body = bytes.TrimSpace(body)
	if bytes.Equal(body, []byte("{}")) {
		return append(head, '}'), nil
	}
	return append(append(head, ','), body[1:]...), nil
}

// =============================================================================
// TRACE PAYLOADS
// =============================================================================

// Delta converts the nested sub-event into a block delta. Both the short
// names (text, thinking) and the top-level event names are accepted.
func (e TaskTraceDelta) Delta() (blocks.Delta, error) {
	switch e.EventType {
	case "text", string(KindAssistantDelta):
		var p AssistantDelta
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return blocks.Delta{}, err
		}
		return blocks.Text(p.Delta), nil
	case "thinking", string(KindThinkingDelta):
		var p ThinkingDelta
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return blocks.Delta{}, err
		}
		return blocks.Thinking(p.Delta), nil
	case string(KindToolCall):
		var p ToolCall
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return blocks.Delta{}, err
		}
		if p.ToolCallID == "" {
			return blocks.Delta{}, fmt.Errorf("%w: nested tool_call without tool_call_id", ErrMalformedEvent)
		}
		return blocks.Call(p.ToolCallID, p.ToolName, p.ToolInput), nil
	case string(KindToolResult):
		var p ToolResult
		if err := unmarshalPayload(e.Payload, &p); err != nil {
			return blocks.Delta{}, err
		}
		return blocks.Result(p.ToolCallID, p.Result, p.IsError), nil
	default:
		return blocks.Delta{}, fmt.Errorf("%w: nested %q", ErrUnknownEvent, e.EventType)
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty trace payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
