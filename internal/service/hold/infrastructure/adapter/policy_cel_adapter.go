package adapter

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"sabzar/internal/service/hold/domain"
)

type compiledRule struct {
	source  string
	program cel.Program
}

// CELPolicyAdapter 是 port.PurchasePolicy 的 CEL 实现。
// 行规则对每一行求值，可用变量 line (product_id, quantity, unit_price) 和 user_id；
// 整单规则对整个购物车求值一次，可用变量 hold (line_count, total_quantity, total_amount) 和 user_id。
// 每条规则都必须返回 bool，false 即违反。
type CELPolicyAdapter struct {
	lineRules []compiledRule
	holdRules []compiledRule
}

// NewCELPolicyAdapter 在启动时编译所有规则，语法或类型错误会立刻暴露。
func NewCELPolicyAdapter(lineRules, holdRules []string) (*CELPolicyAdapter, error) {
	lineEnv, err := cel.NewEnv(
		cel.Variable("line", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	holdEnv, err := cel.NewEnv(
		cel.Variable("hold", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, err
	}

	a := &CELPolicyAdapter{}
	if a.lineRules, err = compileRules(lineEnv, lineRules); err != nil {
		return nil, err
	}
	if a.holdRules, err = compileRules(holdEnv, holdRules); err != nil {
		return nil, err
	}
	return a, nil
}

func compileRules(env *cel.Env, sources []string) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(sources))
	for _, src := range sources {
		ast, iss := env.Compile(src)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", src, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q must return bool, got %s", src, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build rule %q: %w", src, err)
		}
		rules = append(rules, compiledRule{source: src, program: prg})
	}
	return rules, nil
}

func (a *CELPolicyAdapter) Check(ctx context.Context, userID string, lines []domain.Line) error {
	totalQty := 0
	totalAmount := 0.0
	for _, l := range lines {
		fact := map[string]interface{}{
			"product_id": l.ProductID,
			"quantity":   int64(l.Quantity),
			"unit_price": l.UnitPrice.InexactFloat64(),
		}
		for _, r := range a.lineRules {
			if err := evalRule(ctx, r, map[string]interface{}{"line": fact, "user_id": userID}, l.ProductID); err != nil {
				return err
			}
		}
		totalQty += l.Quantity
		totalAmount += l.Subtotal().InexactFloat64()
	}

	fact := map[string]interface{}{
		"line_count":     int64(len(lines)),
		"total_quantity": int64(totalQty),
		"total_amount":   totalAmount,
	}
	for _, r := range a.holdRules {
		if err := evalRule(ctx, r, map[string]interface{}{"hold": fact, "user_id": userID}, ""); err != nil {
			return err
		}
	}
	return nil
}

func evalRule(ctx context.Context, r compiledRule, vars map[string]interface{}, productID string) error {
	out, _, err := r.program.ContextEval(ctx, vars)
	if err != nil {
		return fmt.Errorf("evaluate rule %q: %w", r.source, err)
	}
	if ok, _ := out.Value().(bool); !ok {
		return &domain.PolicyViolationError{Rule: r.source, ProductID: productID}
	}
	return nil
}
