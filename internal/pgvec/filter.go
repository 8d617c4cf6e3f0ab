package pgvec

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupportedFilter indicates a metadata filter that cannot be translated
// to SQL.
var ErrUnsupportedFilter = errors.New("unsupported metadata filter")

// buildFilter translates a metadata filter into a WHERE clause with bound
// parameters numbered from startArg. An empty filter yields an empty clause.
//
// Two shapes are supported per key: a plain value (jsonb containment
// equality) and an operator map such as {"$gte": 10}. Comparison operators
// cast the metadata value to numeric. Keys are processed in sorted order so
// generated SQL is deterministic.
func buildFilter(filter map[string]interface{}, startArg int) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []interface{}
	next := startArg

	for _, key := range keys {
		value := filter[key]
		ops, isOps := value.(map[string]interface{})
		if !isOps {
			conds = append(conds, fmt.Sprintf("metadata @> $%d", next))
			args = append(args, map[string]interface{}{key: value})
			next++
			continue
		}

		if len(ops) == 0 {
			return "", nil, fmt.Errorf("%w: empty operator map for key %q", ErrUnsupportedFilter, key)
		}

		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)

		for _, op := range opNames {
			operand := ops[op]
			switch op {
			case "$eq":
				conds = append(conds, fmt.Sprintf("metadata @> $%d", next))
				args = append(args, map[string]interface{}{key: operand})
				next++
			case "$ne":
				conds = append(conds, fmt.Sprintf("NOT (metadata @> $%d)", next))
				args = append(args, map[string]interface{}{key: operand})
				next++
			case "$gt", "$gte", "$lt", "$lte":
				sqlOp := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
				conds = append(conds, fmt.Sprintf("(metadata->>$%d)::numeric %s $%d", next, sqlOp, next+1))
				args = append(args, key, operand)
				next += 2
			default:
				return "", nil, fmt.Errorf("%w: operator %q", ErrUnsupportedFilter, op)
			}
		}
	}

	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args, nil
}
