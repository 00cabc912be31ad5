/*
Package vars provides the Variable Context that compiled templates are rendered
against.

A Context is a tree of Values rooted at a Namespace. A Value is one of three
kinds: a Scalar holding text, a number or a boolean; a Namespace, which is an
ordered mapping from case-sensitive names to Values; or a LoopList, an ordered
sequence of Namespaces (one per loop iteration).

Scalars and namespaces are assigned with colon-separated paths:

	ctx := vars.New()
	ctx.Set("PAGE_TITLE", "Example")
	ctx.Set("CURRENT_USER:SESSION:ID", "0123456789")

Loop records are appended with dot-separated paths. Every segment before the
last names an ancestor loop, and the record is appended beneath the most
recently appended record of that ancestor:

	ctx.AppendLoopRecord("users", map[string]any{"NAME": "Ross"})
	ctx.AppendLoopRecord("users.orders", map[string]any{"ID": 1})

Assignments never fail. Paths that cannot be resolved are silently dropped.
*/
package vars
