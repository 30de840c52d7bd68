package shared

// ServerInfo contains information about the server
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities represents the server's capabilities
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates support for tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Tool represents a tool exposed by the server
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one tool argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent creates a text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ToolResult creates a successful single-block tool result.
func ToolResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{TextContent(text)}}
}

// ToolError creates an error tool result. It is still a successful JSON-RPC
// response; the failure is reported in-band.
func ToolError(text string) CallToolResult {
	return CallToolResult{Content: []Content{TextContent(text)}, IsError: true}
}
