// Package engine evaluates governance rules against candidate transactions and
// classifies the outcome.
//
// # Architecture
//
// The engine is built in three layers:
//
//  1. Condition Evaluator - compares one record field with a condition operand
//  2. Tree Evaluator - walks all_of / any_of / not groups with short-circuiting
//  3. Interpreter Engine - owns the rule snapshot, builds reports and verdicts
//
// # Evaluation Flow
//
//	tool + record (or signed intent token)
//	       ↓
//	verify token signature (EvaluateToken only)
//	       ↓
//	for each rule bound to tool, in declaration order:
//	  evaluate tree → fired? → Check (PASS / FAIL + explanation)
//	       ↓
//	classify:
//	  fired DENY with BLOCK or BLOCK_AND_LOG  → BLOCKED
//	  fired DENY with REQUIRE_HUMAN_APPROVAL  → REQUIRES_APPROVAL
//	  any ALLOW rule matched                  → EXECUTED
//	  otherwise                               → BLOCKED (NO_MATCHING_ALLOW_RULE)
//
// A tool with no rules is always BLOCKED. Absence of policy is never permission.
//
// # Local Errors
//
// A condition on a field the record lacks evaluates false with a
// FieldMissingError; comparing values of different kinds evaluates false with a
// TypeMismatchError. Neither aborts evaluation: they surface as FAIL diagnostics
// in the report. Anything else (a malformed tree, a timeout) aborts the
// evaluation with an EvaluationError and the caller must treat it as BLOCKED.
//
// # Basic Usage
//
//	src := source.NewFileSource("policies/", logger)
//	eng, err := engine.NewInterpreterEngine(engine.DefaultEngineConfig(), src, signer, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	report, err := eng.EvaluateToken(ctx, "execute_payment", token)
//	if err != nil {
//	    // tampered token or evaluation failure: block
//	}
//	fmt.Println(report.Verdict, report.TriggeredRules)
//
// # Thread Safety
//
// The engine is safe for concurrent use. Each evaluation reads the snapshot
// pointer once under a read lock, so a concurrent reload never produces a
// half-updated view.
package engine
