package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// buildSearchWhere builds the WHERE clause for similarity search, starting
// placeholders at startIndex. Tag and Extra conditions use JSONB containment
// so they run inside the database.
func buildSearchWhere(opts *storage.SearchOptions, startIndex int) (string, []interface{}, error) {
	conditions := []string{"embedding IS NOT NULL"}
	args := []interface{}{}
	argIndex := startIndex

	if opts.ThreadID != "" {
		conditions = append(conditions, fmt.Sprintf("thread_id = $%d", argIndex))
		args = append(args, opts.ThreadID)
		argIndex++
	}
	if opts.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, opts.UserID)
		argIndex++
	}
	if len(opts.Types) > 0 {
		inClause, inArgs := typeInClause(opts.Types, argIndex)
		conditions = append(conditions, inClause)
		args = append(args, inArgs...)
		argIndex += len(inArgs)
	}
	for _, tag := range opts.Tags {
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("tags @> $%d::jsonb", argIndex))
		args = append(args, string(tagJSON))
		argIndex++
	}
	if len(opts.Filters) > 0 {
		filterJSON, err := json.Marshal(opts.Filters)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("extra @> $%d::jsonb", argIndex))
		args = append(args, string(filterJSON))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// buildFilterWhere builds the WHERE clause for fetch and delete.
func buildFilterWhere(filter *storage.Filter, startIndex int) (string, []interface{}, error) {
	if filter == nil {
		return "", nil, nil
	}

	conditions := []string{}
	args := []interface{}{}
	argIndex := startIndex

	if len(filter.IDs) > 0 {
		inClause, inArgs := stringInClause("id", filter.IDs, argIndex)
		conditions = append(conditions, inClause)
		args = append(args, inArgs...)
		argIndex += len(inArgs)
	}
	if filter.ThreadID != "" {
		conditions = append(conditions, fmt.Sprintf("thread_id = $%d", argIndex))
		args = append(args, filter.ThreadID)
		argIndex++
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, filter.UserID)
		argIndex++
	}
	if len(filter.Types) > 0 {
		inClause, inArgs := typeInClause(filter.Types, argIndex)
		conditions = append(conditions, inClause)
		args = append(args, inArgs...)
		argIndex += len(inArgs)
	}
	for _, tag := range filter.Tags {
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, fmt.Sprintf("tags @> $%d::jsonb", argIndex))
		args = append(args, string(tagJSON))
		argIndex++
	}

	if len(conditions) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// typeInClause builds a type IN (...) condition with numbered placeholders.
func typeInClause(types []storage.MemoryType, startIndex int) (string, []interface{}) {
	holders := make([]string, len(types))
	args := make([]interface{}, len(types))
	for i, t := range types {
		holders[i] = fmt.Sprintf("$%d", startIndex+i)
		args[i] = string(t)
	}
	return fmt.Sprintf("type IN (%s)", strings.Join(holders, ", ")), args
}

// stringInClause builds a column IN (...) condition with numbered placeholders.
func stringInClause(column string, values []string, startIndex int) (string, []interface{}) {
	holders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		holders[i] = fmt.Sprintf("$%d", startIndex+i)
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(holders, ", ")), args
}
