package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/engine"
)

// Scenario is a conversation script run against the engine.
// The engine talks to an in-memory hub and REST API and caches into a
// fresh in-memory store.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Viewer is the signed-in user.
	Viewer chat.Participant `yaml:"viewer"`

	// Participants are the other users referenced by id.
	Participants []chat.Participant `yaml:"participants,omitempty"`

	// Conversations are cached before the first step and listed by the
	// server.
	Conversations []ConversationSeed `yaml:"conversations"`

	// Cached messages are in the local cache before the first step.
	Cached []MessageSeed `yaml:"cached,omitempty"`

	// History is what the server returns for history pages.
	History []MessageSeed `yaml:"history,omitempty"`

	// EditPolicy is "invalidate" (the default) or "reconcile-row".
	EditPolicy string `yaml:"edit_policy,omitempty"`

	// PageSize is the history page size. Defaults to 20.
	PageSize int `yaml:"page_size,omitempty"`

	// FirstID is the server id given to the first sent message. Later
	// sends count up from it. Defaults to 100.
	FirstID int `yaml:"first_id,omitempty"`

	// Keys are the local keys handed to sent messages, in order.
	// Defaults to k-1, k-2, ...
	Keys []string `yaml:"keys,omitempty"`

	// Steps drive the engine, one intent or server event each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and cache.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// ConversationSeed is a two-member conversation between the viewer and
// another participant.
type ConversationSeed struct {
	ID     int64  `yaml:"id"`
	With   string `yaml:"with"`
	Unread bool   `yaml:"unread,omitempty"`
}

// MessageSeed describes a confirmed message.
type MessageSeed struct {
	Conversation int64  `yaml:"conversation"`
	ID           string `yaml:"id"`
	From         string `yaml:"from"`
	Content      string `yaml:"content"`
	// At is the message time in minutes after the fixture epoch.
	At      int  `yaml:"at"`
	Deleted bool `yaml:"deleted,omitempty"`
	// Key is the local key of the sending client, set on echoes.
	Key string `yaml:"key,omitempty"`
}

// Step is one action. Exactly one action field must be set.
type Step struct {
	Open      int64        `yaml:"open,omitempty"`
	LoadOlder bool         `yaml:"load_older,omitempty"`
	Sync      bool         `yaml:"sync,omitempty"`
	Join      []int64      `yaml:"join,omitempty"`
	Send      *SendStep    `yaml:"send,omitempty"`
	Resend    string       `yaml:"resend,omitempty"`
	Edit      *EditStep    `yaml:"edit,omitempty"`
	Delete    string       `yaml:"delete,omitempty"`
	Receive   *MessageSeed `yaml:"receive,omitempty"`
	Push      *PushStep    `yaml:"push,omitempty"`
	Hub       string       `yaml:"hub,omitempty"`
	API       string       `yaml:"api,omitempty"`
	Advance   string       `yaml:"advance,omitempty"`

	// Expect is the outcome of the step: ok (the default), reconcile,
	// unknown, empty or error.
	Expect string `yaml:"expect,omitempty"`
}

// SendStep sends a message.
type SendStep struct {
	Conversation int64  `yaml:"conversation"`
	Content      string `yaml:"content"`
}

// EditStep edits a confirmed message.
type EditStep struct {
	Message string `yaml:"message"`
	Content string `yaml:"content"`
}

// PushStep pushes a raw hub event.
type PushStep struct {
	Event   string         `yaml:"event"`
	Payload map[string]any `yaml:"payload"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Method is the traced method (trace_contains, trace_count).
	Method string `yaml:"method,omitempty"`

	// Target narrows trace_contains to calls on one message, key or
	// conversation.
	Target string `yaml:"target,omitempty"`

	// Methods is the expected call order (trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Count is the expected number of calls (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the cache table (final_state): messages or conversations.
	Table string `yaml:"table,omitempty"`

	// Where selects exactly one row (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds the expected column values (final_state). Columns not
	// listed are not checked.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step outcomes.
const (
	ExpectOK        = "ok"
	ExpectReconcile = "reconcile"
	ExpectUnknown   = "unknown"
	ExpectEmpty     = "empty"
	ExpectError     = "error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Viewer.ID == "" {
		return fmt.Errorf("viewer.id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := engine.ParseEditPolicy(s.EditPolicy); err != nil {
		return fmt.Errorf("edit_policy: %w", err)
	}

	known := map[string]bool{s.Viewer.ID: true}
	for _, p := range s.Participants {
		if p.ID == "" {
			return fmt.Errorf("participants: id is required")
		}
		known[p.ID] = true
	}

	convs := make(map[int64]bool)
	for i, c := range s.Conversations {
		if c.ID <= 0 {
			return fmt.Errorf("conversations[%d]: id must be positive", i)
		}
		if !known[c.With] {
			return fmt.Errorf("conversations[%d]: unknown participant %q", i, c.With)
		}
		convs[c.ID] = true
	}

	for name, seeds := range map[string][]MessageSeed{"cached": s.Cached, "history": s.History} {
		for i, m := range seeds {
			if err := validateMessage(m, known); err != nil {
				return fmt.Errorf("%s[%d]: %w", name, i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, known); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateMessage(m MessageSeed, known map[string]bool) error {
	if m.Conversation <= 0 {
		return fmt.Errorf("conversation is required")
	}
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !known[m.From] {
		return fmt.Errorf("unknown sender %q", m.From)
	}
	return nil
}

func validateStep(step Step, known map[string]bool) error {
	actions := 0
	count := func(set bool) {
		if set {
			actions++
		}
	}
	count(step.Open != 0)
	count(step.LoadOlder)
	count(step.Sync)
	count(len(step.Join) > 0)
	count(step.Send != nil)
	count(step.Resend != "")
	count(step.Edit != nil)
	count(step.Delete != "")
	count(step.Receive != nil)
	count(step.Push != nil)
	count(step.Hub != "")
	count(step.API != "")
	count(step.Advance != "")
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, got %d", actions)
	}

	switch {
	case step.Receive != nil:
		if err := validateMessage(*step.Receive, known); err != nil {
			return fmt.Errorf("receive: %w", err)
		}
	case step.Push != nil && step.Push.Event == "":
		return fmt.Errorf("push: event is required")
	case step.Hub != "" && step.Hub != "up" && step.Hub != "down" && step.Hub != "reconnect":
		return fmt.Errorf("hub: want up, down or reconnect, got %q", step.Hub)
	case step.API != "" && step.API != "up" && step.API != "down":
		return fmt.Errorf("api: want up or down, got %q", step.API)
	case step.Advance != "":
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
	}

	switch step.Expect {
	case "", ExpectOK, ExpectReconcile, ExpectUnknown, ExpectEmpty, ExpectError:
	default:
		return fmt.Errorf("unknown expect %q", step.Expect)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
