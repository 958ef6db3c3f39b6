// ABOUTME: Assistant gateway client interface and data types
// ABOUTME: Defines Ask/RunStatus/LastMessage against the external assistant execution engine

package assistant

import (
	"context"
	"errors"
)

// ErrGateway is returned when the assistant gateway reports an error payload.
var ErrGateway = errors.New("assistant gateway error")

// RunStatusCompleted is the terminal run status the poller waits for.
const RunStatusCompleted = "completed"

// RoleAssistant selects assistant-authored messages from LastMessage.
const RoleAssistant = "assistant"

// ResponseFormat mirrors the gateway's response_format variable.
// JSONSchema is raw JSON, set only for the json_schema type.
type ResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema string `json:"json_schema,omitempty"`
}

// AskRequest carries a user query to the assistant gateway. Optional
// fields are omitted from the wire call when unset, never defaulted.
type AskRequest struct {
	AssistantType          string          `json:"assistant_type"`
	AssistantID            string          `json:"assistant_id"`
	ThreadID               string          `json:"thread_id,omitempty"`
	UserQuery              string          `json:"user_query"`
	Instructions           string          `json:"instructions,omitempty"`
	ResponseFormat         *ResponseFormat `json:"response_format,omitempty"`
	Tools                  string          `json:"tools,omitempty"`
	AdditionalInstructions string          `json:"additional_instructions,omitempty"`
	ConnectionID           string          `json:"connection_id,omitempty"`
	UpdatedBy              string          `json:"updated_by,omitempty"`
}

// RunHandle identifies an in-flight model run. Produced by Ask, consumed
// by the run poller; the hub never invents thread or run ids.
type RunHandle struct {
	FunctionName string `json:"function_name"`
	TaskUUID     string `json:"task_uuid"`
	AssistantID  string `json:"assistant_id"`
	ThreadID     string `json:"thread_id"`
	RunID        string `json:"current_run_id"`
}

// Gateway is the client interface the hub consumes. The real assistant
// execution engine lives behind it; Ask returns immediately with a run
// handle while the model run completes asynchronously.
type Gateway interface {
	Ask(ctx context.Context, req *AskRequest) (*RunHandle, error)
	RunStatus(ctx context.Context, handle *RunHandle) (string, error)
	LastMessage(ctx context.Context, assistantID, threadID, role string) (string, error)
}
