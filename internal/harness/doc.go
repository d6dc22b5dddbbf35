// Package harness runs conversation scenarios against the sync engine.
//
// A scenario seeds the local cache and the server, then drives the engine
// through intents and hub events. The engine runs for real; only the hub
// and the REST API are in-memory stand-ins. The result records the server
// calls the engine made and the final cache, which are checked by
// assertions and compared against golden snapshots.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	viewer: { id: u-dana, name: Dana }
//	participants:
//	  - { id: u-sam, name: Sam }
//	conversations:
//	  - { id: 7, with: u-sam }
//	cached:
//	  - { conversation: 7, id: "1", from: u-sam, content: "Hello", at: 1 }
//	history:
//	  - { conversation: 7, id: "1", from: u-sam, content: "Hello", at: 1 }
//	steps:
//	  - open: 7
//	  - send: { conversation: 7, content: "Hi Sam" }
//	  - receive: { conversation: 7, id: "2", from: u-sam, content: "Hey", at: 5 }
//	  - hub: down
//	  - send: { conversation: 7, content: "Still there?" }
//	    expect: reconcile
//	assertions:
//	  - type: trace_contains
//	    method: SendMessage
//	    target: k-1
//	  - type: final_state
//	    table: messages
//	    where: { key: "p:k-2" }
//	    expect: { status: sending }
//
// Message times ("at") are minutes after testutil.Epoch. The engine's clock
// starts an hour after it; acknowledged sends get ids counting up from
// first_id (100 by default) and local keys k-1, k-2, ...
//
// # Steps
//
// Each step has exactly one action: open, load_older, sync, join, send,
// resend, edit, delete, receive, push (a raw hub event), hub (up, down,
// reconnect), api (up, down) or advance (a duration). Hub events are
// applied after every step. A step's expect names its outcome: ok (the
// default), reconcile, unknown, empty or error.
//
// # Assertion Types
//
//   - trace_contains: a call to the method (on the target) was made
//   - trace_order: methods were first called in the given order
//   - trace_count: the method was called exactly N times
//   - final_state: one cache row matches where and holds expect
//
// The trace lists REST fetches and writes and awaited hub invocations.
// Within a step REST calls come first. Fire-and-forget hub sends such as
// typing indicators and checkouts are not traced.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/send_and_echo.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
