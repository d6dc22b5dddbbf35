package harness

// TraceEvent is one call the engine made to the server.
type TraceEvent struct {
	Step   int    `json:"step"`
	Via    string `json:"via"` // "hub" or "rest"
	Method string `json:"method"`
	Target string `json:"target,omitempty"`
}

// ConversationState is a cached conversation with its messages.
type ConversationState struct {
	ID            int64          `json:"id"`
	LastMessage   string         `json:"lastMessage"`
	LastMessageID string         `json:"lastMessageId"`
	Unread        bool           `json:"unread"`
	Messages      []MessageState `json:"messages"`
}

// MessageState is a cached message.
type MessageState struct {
	Key     string   `json:"key"`
	From    string   `json:"from"`
	Content string   `json:"content"`
	Status  string   `json:"status"`
	Deleted bool     `json:"deleted,omitempty"`
	ReadBy  []string `json:"readBy,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step had its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds the server calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Conversations is the final cache, ordered by conversation id.
	Conversations []ConversationState `json:"conversations"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:          true,
		Trace:         []TraceEvent{},
		Errors:        []string{},
		Conversations: []ConversationState{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a server call.
func (r *Result) AddTrace(step int, via, method, target string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Via: via, Method: method, Target: target})
}
