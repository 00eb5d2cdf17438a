package playground

import (
	"encoding/json"
	"fmt"
)

// MustString enforces string representation for fields the protocol allows to
// be either string or integer, such as request IDs. It converts automatically
// during JSON marshaling and unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with the server.
// A request sets ID, Method, and Params; a response sets ID and either Result
// or Error; a notification sets Method without an ID.
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      MustString      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the standard JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used on the wire.
	JSONRPCVersion = "2.0"

	protocolVersion = "2024-11-05"

	methodInitialize = "initialize"
	methodPing       = "ping"

	methodPromptsList   = "prompts/list"
	methodPromptsGet    = "prompts/get"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"

	methodNotificationsInitialized = "notifications/initialized"
	methodNotificationsCancelled   = "notifications/cancelled"

	userCancelledReason = "User requested cancellation"
)

// Wire-level capability structs. Presence of a pointer marks a supported
// capability set, matching the protocol's initialize result shape.
type wireCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

type wireServerCapabilities struct {
	Prompts   *wireCapability `json:"prompts,omitempty"`
	Resources *wireCapability `json:"resources,omitempty"`
	Tools     *wireCapability `json:"tools,omitempty"`
}

func (c wireServerCapabilities) capabilitySet() CapabilitySet {
	return CapabilitySet{
		Tools:     c.Tools != nil,
		Resources: c.Resources != nil,
		Prompts:   c.Prompts != nil,
	}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    wireServerCapabilities `json:"capabilities"`
	ServerInfo      Info                   `json:"serverInfo"`
	Instructions    string                 `json:"instructions,omitempty"`
}

type notificationsCancelledParams struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"`
}

// List results on the wire, converted into CapabilityDescriptors by the
// transports.
type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type wireResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type wirePrompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type listToolsResult struct {
	Tools      []wireTool `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type listResourcesResult struct {
	Resources  []wireResource `json:"resources"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type listPromptsResult struct {
	Prompts    []wirePrompt `json:"prompts"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// listMethod maps a capability kind to its list RPC method.
func listMethod(kind CapabilityKind) string {
	switch kind {
	case KindResource:
		return methodResourcesList
	case KindPrompt:
		return methodPromptsList
	default:
		return methodToolsList
	}
}

// invokeMethod maps a capability kind to its invocation RPC method.
func invokeMethod(kind CapabilityKind) string {
	switch kind {
	case KindResource:
		return methodResourcesRead
	case KindPrompt:
		return methodPromptsGet
	default:
		return methodToolsCall
	}
}

// invokeParams builds the params object for an invocation of the given kind.
// Tools and prompts are addressed by name with arguments; resources by URI.
func invokeParams(kind CapabilityKind, name string, params json.RawMessage) (json.RawMessage, error) {
	var body any
	switch kind {
	case KindResource:
		body = map[string]any{"uri": name}
	default:
		args := params
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		body = map[string]any{"name": name, "arguments": args}
	}
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return bs, nil
}

// decodeList converts a raw list result of the given kind into descriptors.
func decodeList(kind CapabilityKind, raw json.RawMessage) ([]CapabilityDescriptor, error) {
	switch kind {
	case KindResource:
		var res listResourcesResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, protocolError("malformed resources list result", err)
		}
		descs := make([]CapabilityDescriptor, 0, len(res.Resources))
		for _, r := range res.Resources {
			descs = append(descs, CapabilityDescriptor{
				Kind:        KindResource,
				Name:        r.URI,
				Description: r.Description,
				MimeType:    r.MimeType,
			})
		}
		return descs, nil
	case KindPrompt:
		var res listPromptsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, protocolError("malformed prompts list result", err)
		}
		descs := make([]CapabilityDescriptor, 0, len(res.Prompts))
		for _, p := range res.Prompts {
			descs = append(descs, CapabilityDescriptor{
				Kind:        KindPrompt,
				Name:        p.Name,
				Description: p.Description,
				Arguments:   p.Arguments,
			})
		}
		return descs, nil
	default:
		var res listToolsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, protocolError("malformed tools list result", err)
		}
		descs := make([]CapabilityDescriptor, 0, len(res.Tools))
		for _, t := range res.Tools {
			descs = append(descs, CapabilityDescriptor{
				Kind:        KindTool,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		return descs, nil
	}
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into
// MustString, handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler, always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}
