// Package harness runs sync conformance scenarios.
//
// A scenario drives a real sync coordinator and query cache bridge against
// an in-memory local store and a recording fake API, then checks the calls
// the API received and the final state of the store.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false
//	api:
//	  - method: GET
//	    path: /api/tasks
//	    status: 200
//	    body: '[{"id":"1"}]'
//	steps:
//	  - submit:
//	      kind: create
//	      endpoint: /api/tasks
//	      payload: { title: "Q1 plan" }
//	      at: 100
//	  - online: true
//	  - replay: true
//	  - read: /api/tasks
//	assertions:
//	  - type: call_count
//	    call: POST /api/tasks
//	    count: 1
//	  - type: pending
//	    count: 0
//
// Steps also accept fail (queue error statuses), down (drop connections)
// and respond (install a canned response).
//
// # Assertion Types
//
//   - call_contains: a call with a body containing the given fields
//   - call_order: calls appear in the specified order
//   - call_count: a call appears exactly N times
//   - pending: the mutation queue holds exactly N entries
//   - dead_letters: exactly N mutations were dead-lettered
//   - partition: a stored record contains the given fields
//
// # Deterministic Testing
//
// Mutation ids come from a sequence generator ("m-1", "m-2", ...) and the
// enqueue clock is set by each submit step, so traces are identical across
// runs and can be compared against golden files.
package harness
