package engine

import (
	"context"
	"testing"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/value"
)

// BenchmarkEvaluateTree measures a two-level tree against a small record.
func BenchmarkEvaluateTree(b *testing.B) {
	node := ast.AnyOf(
		ast.AllOf(
			ast.Leaf("merchant", ast.OperatorIn, verified),
			ast.Leaf("amount", ast.OperatorLessThanOrEqual, num(50000)),
		),
		ast.AllOf(
			ast.Leaf("merchant", ast.OperatorNotIn, verified),
			ast.Leaf("amount", ast.OperatorLessThanOrEqual, num(5000)),
		),
	)
	rec := value.Record{"amount": value.Number(3000), "merchant": value.String("ELECTRICITY_BOARD")}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := EvaluateTree(ctx, node, rec); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEngineEvaluate measures a full evaluation of two rules.
func BenchmarkEngineEvaluate(b *testing.B) {
	rules := []*ast.PolicyRule{
		{Name: "ALLOW", Tool: "t", Action: ast.ActionAllow, Condition: ast.Leaf("amount", ast.OperatorLessThanOrEqual, num(5000))},
		{Name: "DENY", Tool: "t", Action: ast.ActionDeny, Severity: ast.SeverityBlock, Condition: ast.Leaf("amount", ast.OperatorGreaterThan, num(5000))},
	}
	src := &staticSource{set: &ast.RuleSet{Version: "bench", Rules: rules}}
	eng, err := NewInterpreterEngine(nil, src, nil, quietLogger())
	if err != nil {
		b.Fatal(err)
	}
	defer eng.Close()
	rec := value.Record{"amount": value.Number(3000)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Evaluate(context.Background(), "t", rec); err != nil {
			b.Fatal(err)
		}
	}
}
