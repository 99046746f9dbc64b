package expression

import (
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// IsAlwaysFalse reports whether a condition can be proven false without
// evaluating it against any record. The scheduler uses this to skip
// per-record work for jumps that can never fire. A false return proves
// nothing about the condition.
func (e *Engine) IsAlwaysFalse(condition string) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false
	}
	// Common spellings coming from imported definitions.
	switch strings.ToLower(condition) {
	case "false", "0":
		return true
	}

	tree, err := parser.Parse(condition)
	if err != nil {
		// Unparsable conditions evaluate to false at runtime, but the
		// error must be recorded there; do not silently skip them here.
		return false
	}
	return isAlwaysFalseNode(tree.Node)
}

func isAlwaysFalseNode(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.BoolNode:
		return !n.Value
	case *ast.BinaryNode:
		left, leftOK := literalValue(n.Left)
		right, rightOK := literalValue(n.Right)
		if !leftOK || !rightOK {
			return false
		}
		switch n.Operator {
		case "==":
			return left != right
		case "!=":
			return left == right
		}
	case *ast.UnaryNode:
		if n.Operator == "!" {
			if b, ok := n.Node.(*ast.BoolNode); ok {
				return b.Value
			}
		}
	}
	return false
}

// literalValue extracts a comparable value from a literal AST node.
func literalValue(node ast.Node) (interface{}, bool) {
	switch n := node.(type) {
	case *ast.StringNode:
		return n.Value, true
	case *ast.IntegerNode:
		return float64(n.Value), true
	case *ast.FloatNode:
		return n.Value, true
	case *ast.BoolNode:
		return n.Value, true
	case *ast.NilNode:
		return nil, true
	}
	return nil, false
}
