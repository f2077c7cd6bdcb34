// Package query implements the SELECT-only pipeline of spec §4.4:
// lex → parse → plan → execute over an in-memory table catalogue supplied
// by the caller. See lexer.go, parser.go, planner.go, executor.go,
// aggregate.go, value.go, catalog.go for the individual stages.
package query

// Run lexes, parses, plans and executes one SELECT statement against
// catalog, the full pipeline named in spec §4.4.
func Run(sql string, catalog *Catalog) ([]Row, error) {
	q, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	op, err := Plan(q, catalog)
	if err != nil {
		return nil, err
	}
	return Execute(op, catalog)
}
