// Armour is an intent governance runtime for agent actions.
//
// A natural-language request is reasoned into an action, narrowed into a
// signed intent token through a questionnaire, evaluated against YAML rule
// trees and then executed, blocked or queued for a human. Every step is kept
// in an append-only trace.
//
// Usage:
//
//	# Start the HTTP API
//	armour serve --config /etc/armour/config.yaml
//
//	# Run one request interactively
//	armour run "Pay my electricity bill of ₹6200"
//
//	# Validate policy files
//	armour lint --dir policies/
//
//	# Evaluate a record against the rules for a tool
//	armour eval --tool execute_payment merchant=ELECTRICITY_BOARD amount=6200
//
//	# Inspect archived traces and pending approvals
//	armour traces list --outcome BLOCKED
//	armour approvals list
//
// The signing secret is read from ARMOUR_SIGNING_SECRET.
package main

func main() {
	Execute()
}
