// Package harness runs scripted storage scenarios and compares the
// resulting traces against expectations and golden files.
//
// A scenario declares stores and particles the way an arc manifest does,
// then drives them through an ordered list of steps. Proxies talk to a
// ScriptedPort instead of the in-process port: store events can be dropped,
// and synchronize requests stay pending until a sync step answers them, so
// desynchronization and stale responses are reproducible.
//
// # Scenario Format
//
//	name: drop_and_resync
//	description: "A dropped event desynchronizes the proxy"
//	reference_mode: false
//	stores:
//	  - id: bar
//	    kind: collection
//	particles:
//	  - id: P1
//	    handles:
//	      - store: bar
//	        options: {notifyDesync: true}
//	steps:
//	  - sync: bar
//	  - idle: true
//	  - store: bar
//	    entity: {id: v1}
//	  - store: bar
//	    entity: {id: v2}
//	    drop: true
//	  - write: {particle: P1, store: bar, op: remove, id: v1}
//	expect:
//	  - "port sync-requested bar"
//	  - ...
//	assertions:
//	  - type: trace_contains
//	    line: "P1 desync bar"
//	  - type: final_state
//	    store: bar
//	    ids: [v2]
//
// # Steps
//
//   - store, remove, set, clear: mutate the named store directly, as
//     another arc would. Optional version pins the event version,
//     originator stamps it, and drop withholds the event from proxies.
//   - sync: answer every pending synchronize request for the store with
//     its current snapshot.
//   - write: call a particle's handle (op store, remove, set or clear).
//   - idle: deliver queued callbacks until the arc is quiescent.
//
// The scheduler is drained once more after the last step.
//
// # Trace Lines
//
//	port sync-requested bar     a proxy asked for a snapshot
//	port sync bar@3             a snapshot at version 3 was answered
//	port event bar@1            an event was forwarded to proxies
//	port drop bar@2             an event was withheld
//	P1 sync bar [v1|v2]         particle callbacks; variables render the id
//	P1 update bar +[v1] -[]     or "null"; own writes end in " (own)"
//	P1 desync bar
package harness
