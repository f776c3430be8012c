// Package harness runs scripted offline-sync scenarios against the real
// engine, router and SQLite store, with a FakeRemote standing in for the
// object-upload and entity-creation services.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false        # initial reachability
//	auto_sync: true      # drain on every reconnect, as the watch command does
//	steps:
//	  - capture: r1
//	    collection: inspections
//	    fields: { unit: 4B }
//	    attachments: 2
//	    expect: { outcome: saved_offline }
//	  - fail: r1
//	    on: create
//	    code: SERVER_ERROR
//	    message: gateway timeout
//	  - online: true
//	    expect: { synced: 0, failed: 1, pending: 1 }
//	  - heal: true
//	  - drain: true
//	  - correct: r1
//	    fields: { kind: crack }
//	  - remote: down
//	assertions:
//	  - type: queue_depth
//	    count: 0
//	  - type: record_synced
//	    record: r1
//
// Each step sets exactly one action. Records are named by the alias given in
// their capture step; later steps and assertions refer to them by alias.
//
// # Assertion Types
//
//   - queue_depth: number of records left in the queue
//   - entity_count: number of remote entities, optionally in one collection
//   - record_state: state and correction flag of a queued record
//   - record_synced: the record left the queue and exactly one entity exists for it
//   - no_data_loss: every capture is either queued or created remotely
//   - created_once: no capture produced more than one entity
//
// # Deterministic Testing
//
// Local ids come from capture.SequentialIDs ("id-1", "id-2", ... shared by
// records and attachments), remote ids from FakeRemote ("entity-N",
// "blob-N"), and time from testutil.FakeClock. Each run uses a fresh
// in-memory database, so traces are identical across runs and can be
// compared against golden files with RunWithGolden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/partial_failure.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
