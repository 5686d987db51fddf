package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/hybridmem/hybridmem-go/pkg/storage"
)

// buildSearchWhere builds the WHERE clause for similarity search.
//
// Only structured fields become SQL conditions. Tag membership and Extra
// matching happen in Go after scanning, see matchesResidualFilters.
func buildSearchWhere(opts *storage.SearchOptions) (string, []interface{}) {
	conditions := []string{"embedding IS NOT NULL"}
	args := []interface{}{}

	if opts.ThreadID != "" {
		conditions = append(conditions, "thread_id = ?")
		args = append(args, opts.ThreadID)
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", placeholders(len(opts.Types))))
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildFilterWhere builds the WHERE clause for document fetch and delete.
func buildFilterWhere(filter *storage.Filter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}

	if len(filter.IDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("id IN (%s)", placeholders(len(filter.IDs))))
		args = append(args, stringArgs(filter.IDs)...)
	}
	if filter.ThreadID != "" {
		conditions = append(conditions, "thread_id = ?")
		args = append(args, filter.ThreadID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("type IN (%s)", placeholders(len(filter.Types))))
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// matchesResidualFilters applies the filters SQL cannot express cheaply.
func matchesResidualFilters(memory *storage.Memory, opts *storage.SearchOptions) bool {
	for _, tag := range opts.Tags {
		if !memory.HasTag(tag) {
			return false
		}
	}
	for key, want := range opts.Filters {
		got, ok := memory.Extra[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// tagsMatch applies the Filter's tag conditions after scanning.
func tagsMatch(memory *storage.Memory, filter *storage.Filter) bool {
	if filter == nil {
		return true
	}
	for _, tag := range filter.Tags {
		if !memory.HasTag(tag) {
			return false
		}
	}
	return true
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// stringArgs converts a string slice to a driver argument slice.
func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// boolToInt converts a bool to the 0/1 form SQLite stores.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableTime converts an optional time to a driver value.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
