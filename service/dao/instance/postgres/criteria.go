package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/viant/gatekeeper/service/dao/instance"
)

// criteria renders a filter as a WHERE predicate. Placeholders are numbered
// starting after the supplied args so the predicate can follow SET values.
func criteria(filter *instance.Filter, args []interface{}) (string, []interface{}) {
	if filter == nil {
		return "TRUE", args
	}
	var predicates []string
	add := func(expr string, value interface{}) {
		args = append(args, value)
		predicates = append(predicates, fmt.Sprintf(expr, len(args)))
	}
	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}
	if filter.NodeExecutionID != "" {
		add("node_execution_id = $%d", filter.NodeExecutionID)
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		add("status = ANY($%d)", pq.Array(values))
	}
	if len(filter.Types) > 0 {
		values := make([]string, len(filter.Types))
		for i, aType := range filter.Types {
			values[i] = string(aType)
		}
		add("type = ANY($%d)", pq.Array(values))
	}
	if filter.DeadlineBefore != nil {
		add("deadline < $%d", filter.DeadlineBefore.UTC())
	}
	if len(predicates) == 0 {
		return "TRUE", args
	}
	return strings.Join(predicates, " AND "), args
}
