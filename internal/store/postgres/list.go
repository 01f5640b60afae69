package postgres

import (
	"fmt"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// windowClause appends the time window, ordering and paging from opts to a
// query that already has a WHERE clause and len(args) placeholders.
func windowClause(column string, opts domain.ListOpts, args []any) (string, []any) {
	var clause string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		clause += " AND " + column + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		clause += " AND " + column + " <= " + next(*opts.Until)
	}
	clause += " ORDER BY " + column + " DESC"
	if opts.Limit > 0 {
		clause += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		clause += " OFFSET " + next(opts.Offset)
	}
	return clause, args
}
