/*
Package templating compiles a small text markup into render plans and renders
them against a variable context.

The markup recognizes:

	{NAME}                          output a variable
	{NS:NAME}                       output a namespaced variable, any depth
	{C:NAME}                        output a constant
	{LOOP: name} ... {/LOOP: name}  repeat for every record of a loop list
	{name.FIELD}                    a field of the current record, inside a loop
	{IF: expr} ... {ELSEIF: expr} ... {ELSE:} ... {/IF}
	{INCLUDE: path}                 splice another template in
	{IGNORE} ... {/IGNORE}          text that is never interpreted

Conditions accept the operators ! && || == != === !== < > <= >= and their
word forms not, and, or, eq, neq, lt, gt, lte, gte, with parentheses for
grouping. Every loop record also exposes IS_FIRST_ROW, IS_LAST_ROW,
IS_ODD_ROW and IS_EVEN_ROW.

Building a plan runs a fixed pipeline: ignore regions are swapped for
placeholders, includes are spliced in, the text is lexed, loop markers are
paired by name with a stack, condition groups are assembled, and ignore
bodies are restored as literal text. Missing includes, unmatched markers and
malformed expressions never stop compilation; they are reported as
Diagnostics, either raised to a handler or recorded on the Engine.

An Engine ties the pipeline to a loader.Loader for sources and a cache.Cache
for built plans:

	eng := templating.NewEngine(logger, loader.NewDirLoader("templates"), planCache, templating.DefaultConfig())
	t, err := eng.Load("page.html")
	if err != nil {
		return err
	}
	t.Set("USER:NAME", "Bob")
	out, err := eng.Compile(ctx, t)
*/
package templating
