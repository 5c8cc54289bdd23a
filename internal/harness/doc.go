// Package harness runs query conformance scenarios.
//
// A scenario is a list of query documents with what each must compile to,
// return and match. The harness compiles every step for each dialect the
// scenario names, runs the SQLite statement against the scenario's
// fixtures and applies the filter to the scenario's objects in memory.
//
// # Scenario Format
//
//	name: people
//	description: "Filters over people and their departments"
//	mapping: ../mapping.cue    # relative to the scenario file
//	dialects: [sqlite, postgres]
//	fixtures:
//	  - table: person
//	    rows:
//	      - {id: 1, name: Ann, age: 41}
//	objects:
//	  - {id: 1, name: Ann, age: 41}
//	steps:
//	  - name: adults
//	    query:
//	      candidate: Person
//	      alias: p
//	      filter: {">": [p.age, $min]}
//	      select: [p.name]
//	    params: {min: 18}
//	    expect:
//	      sql:
//	        sqlite: "SELECT t0.name FROM person t0 WHERE t0.age > ?"
//	      args: [18]
//	      rows: [[Ann]]
//	      matched: [1]
//
// # Expectations
//
//   - sql: the statement text per dialect
//   - args: the bind arguments, in slot order
//   - rows: the rows SQLite returns for the fixtures
//   - matched: the id field of each object the in-memory filter keeps
//   - error: the error code translation or compilation must fail with
//
// Numbers compare by value, so 30 in a scenario matches an int64 or
// float64 of 30.
//
// # Golden Files
//
// RunWithGolden compares the scenario's Snapshot with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
