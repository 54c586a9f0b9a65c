package core

import "errors"

// TreeIdentity tells whether a transformation produced a new tree.
type TreeIdentity bool

// Tree identities.
const (
	SameTree TreeIdentity = true
	NewTree  TreeIdentity = false
)

// ExprFunc rewrites one expression node.
type ExprFunc func(e SQLExpression) (SQLExpression, TreeIdentity, error)

// TransformUp applies f to every node of e from the bottom up. Unchanged
// subtrees are shared with the input; changed nodes are copied.
func TransformUp(e SQLExpression, f ExprFunc) (SQLExpression, TreeIdentity, error) {
	children := e.Children()
	if len(children) == 0 {
		return f(e)
	}

	var newChildren []SQLExpression
	for i, c := range children {
		nc, same, err := TransformUp(c, f)
		if err != nil {
			return nil, SameTree, err
		}
		if !same {
			if newChildren == nil {
				newChildren = make([]SQLExpression, len(children))
				copy(newChildren, children)
			}
			newChildren[i] = nc
		}
	}

	sameC := SameTree
	if newChildren != nil {
		sameC = NewTree
		var err error
		e, err = e.WithChildren(newChildren...)
		if err != nil {
			return nil, SameTree, err
		}
	}

	e, sameN, err := f(e)
	if err != nil {
		return nil, SameTree, err
	}
	return e, sameC && sameN, nil
}

// TransformDown applies f top-down. When f reports NewTree for a node, the
// replacement is kept and its children are not visited.
func TransformDown(e SQLExpression, f ExprFunc) (SQLExpression, TreeIdentity, error) {
	ne, same, err := f(e)
	if err != nil {
		return nil, SameTree, err
	}
	if !same {
		return ne, NewTree, nil
	}

	children := e.Children()
	var newChildren []SQLExpression
	for i, c := range children {
		nc, same, err := TransformDown(c, f)
		if err != nil {
			return nil, SameTree, err
		}
		if !same {
			if newChildren == nil {
				newChildren = make([]SQLExpression, len(children))
				copy(newChildren, children)
			}
			newChildren[i] = nc
		}
	}
	if newChildren == nil {
		return e, SameTree, nil
	}
	e, err = e.WithChildren(newChildren...)
	if err != nil {
		return nil, SameTree, err
	}
	return e, NewTree, nil
}

// Inspect visits e bottom-up and stops early once f returns true. It
// reports whether traversal stopped.
func Inspect(e SQLExpression, f func(SQLExpression) bool) bool {
	stop := errors.New("stop")
	_, _, err := TransformUp(e, func(e SQLExpression) (SQLExpression, TreeIdentity, error) {
		if f(e) {
			return nil, SameTree, stop
		}
		return e, SameTree, nil
	})
	return errors.Is(err, stop)
}

// ReferencedTables returns the IDs of tables whose columns occur in e,
// excluding columns inside scalar subqueries.
func ReferencedTables(e SQLExpression) map[TableID]struct{} {
	ids := make(map[TableID]struct{})
	if e == nil {
		return ids
	}
	Inspect(e, func(e SQLExpression) bool {
		if c, ok := e.(*ColumnExpression); ok {
			ids[c.Table] = struct{}{}
		}
		return false
	})
	return ids
}

// splitConjuncts flattens a tree of ANDs.
func splitConjuncts(e SQLExpression) []SQLExpression {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryExpression); ok && b.Operator == OpAnd {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []SQLExpression{e}
}
