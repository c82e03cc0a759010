package voice

// Tool declares a function the model can invoke during conversation.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide
	// when to use it.
	Description string `json:"description"`

	// Parameters is the JSON schema for the tool's arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is an invocation of a tool by the model. Call IDs are
// remote-assigned and never reused within a session.
type ToolCall struct {
	// ID correlates the call with its result.
	ID string

	// Name is the tool being invoked.
	Name string

	// Arguments contains the parsed arguments from the model.
	Arguments map[string]any
}

// ToolResult is the answer to exactly one ToolCall.
type ToolResult struct {
	// CallID matches the ToolCall.ID this result corresponds to.
	CallID string

	// Name is the tool that was invoked.
	Name string

	// OK reports whether the action succeeded.
	OK bool

	// Detail is a short human/model readable outcome, or a
	// machine-readable failure reason such as "domain not permitted".
	Detail string
}
