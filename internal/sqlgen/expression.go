package sqlgen

import (
	"fmt"

	"github.com/coregx/relq/internal/core"
)

// Operator precedence, loosest first. Operands that bind looser than their
// parent are parenthesized.
const (
	precOr = iota + 1
	precAnd
	precNot
	precComparison
	precAdditive
	precMultiplicative
	precUnary
	precPrimary
)

func binaryPrecedence(op core.BinaryOperator) int {
	switch op {
	case core.OpOr:
		return precOr
	case core.OpAnd:
		return precAnd
	case core.OpAdd, core.OpSubtract:
		return precAdditive
	case core.OpMultiply, core.OpDivide, core.OpModulo:
		return precMultiplicative
	}
	return precComparison
}

func precedence(e core.SQLExpression) int {
	switch e := e.(type) {
	case *core.BinaryExpression:
		return binaryPrecedence(e.Operator)
	case *core.UnaryExpression:
		switch e.Operator {
		case core.OpNot:
			return precNot
		case core.OpIsNull, core.OpIsNotNull:
			return precComparison
		}
		return precUnary
	}
	return precPrimary
}

func associative(op core.BinaryOperator) bool {
	switch op {
	case core.OpAnd, core.OpOr, core.OpAdd, core.OpMultiply:
		return true
	}
	return false
}

// expr prints e, parenthesized when it binds looser than parent.
func (g *generator) expr(e core.SQLExpression, parent int) error {
	if e == nil {
		return core.ErrInvariantViolation.New("nil expression")
	}
	wrap := precedence(e) < parent
	if wrap {
		g.write("(")
	}
	if err := g.node(e); err != nil {
		return err
	}
	if wrap {
		g.write(")")
	}
	return nil
}

func (g *generator) node(e core.SQLExpression) error {
	switch e := e.(type) {
	case *core.ColumnExpression:
		if e.TableAlias != "" {
			g.write(g.quote(e.TableAlias), ".")
		}
		g.write(g.quote(e.Name))
	case *core.ConstantExpression:
		if e.IsNull() {
			g.write("NULL")
			return nil
		}
		g.bind(e.Value)
	case *core.ParameterExpression:
		g.bind(Param{Name: e.Name})
	case *core.BinaryExpression:
		return g.binary(e)
	case *core.UnaryExpression:
		return g.unary(e)
	case *core.FunctionExpression:
		g.write(e.Name, "(")
		if e.Star {
			g.write("*")
		} else if err := g.exprList(e.Arguments); err != nil {
			return err
		}
		g.write(")")
	case *core.CaseExpression:
		g.write("CASE")
		for _, w := range e.Whens {
			g.write(" WHEN ")
			if err := g.expr(w.When, 0); err != nil {
				return err
			}
			g.write(" THEN ")
			if err := g.expr(w.Then, 0); err != nil {
				return err
			}
		}
		if e.Else != nil {
			g.write(" ELSE ")
			if err := g.expr(e.Else, 0); err != nil {
				return err
			}
		}
		g.write(" END")
	case *core.FragmentExpression:
		g.write(e.SQL)
	case *core.ScalarSubqueryExpression:
		g.write("(")
		if err := g.statement(e.Subquery); err != nil {
			return err
		}
		g.write(")")
	default:
		return core.ErrInvariantViolation.New(fmt.Sprintf("unknown expression %T", e))
	}
	return nil
}

func (g *generator) binary(b *core.BinaryExpression) error {
	p := binaryPrecedence(b.Operator)
	// comparisons do not chain; the right operand of a non-associative
	// operator must bind tighter
	left, right := p, p+1
	if p == precComparison {
		left = p + 1
	} else if r, ok := b.Right.(*core.BinaryExpression); ok && r.Operator == b.Operator && associative(b.Operator) {
		right = p
	}
	if err := g.expr(b.Left, left); err != nil {
		return err
	}
	g.write(" ", b.Operator.String(), " ")
	return g.expr(b.Right, right)
}

func (g *generator) unary(u *core.UnaryExpression) error {
	switch u.Operator {
	case core.OpNot:
		g.write("NOT ")
		return g.expr(u.Operand, precComparison+1)
	case core.OpNegate:
		g.write("-")
		return g.expr(u.Operand, precPrimary)
	case core.OpIsNull, core.OpIsNotNull:
		if err := g.expr(u.Operand, precComparison+1); err != nil {
			return err
		}
		g.write(" ", u.Operator.String())
		return nil
	}
	return core.ErrInvariantViolation.New(fmt.Sprintf("unknown unary operator %s", u.Operator))
}
