// Package ast defines the in-memory form of governance rules.
//
// A policy file parses into a RuleSet: an ordered list of PolicyRules, each
// bound to one tool and carrying a boolean condition tree.
//
// # Condition Trees
//
// RuleNode is a tagged variant with four kinds:
//
//	leaf    one Condition (field operator value)
//	all_of  conjunction of children, true when empty
//	any_of  disjunction of children, false when empty
//	not     negation of one child
//
// Trees are built either by the parser or by the constructors:
//
//	tree := ast.AllOf(
//	    ast.Leaf("merchant", ast.OperatorNotIn, ast.ListOperand(value.String("WATER_UTILITY"))),
//	    ast.Leaf("amount", ast.OperatorGreaterThan, ast.ScalarOperand(value.Number(5000))),
//	)
//
// # Rules
//
// An ALLOW rule permits the call when its tree is true. A DENY rule fires when
// its tree is true and its Severity decides the consequence: BLOCK and
// BLOCK_AND_LOG block, REQUIRE_HUMAN_APPROVAL parks the call for a human.
//
// RuleSets are never mutated after loading. Reloading produces a new RuleSet.
package ast
