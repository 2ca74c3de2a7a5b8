package pgmcp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ColumnValues maps column name to value. Iteration order is insertion
// order, which decides placeholder order for inserts and updates.
type ColumnValues = *orderedmap.OrderedMap[string, any]

// NewColumnValues returns an empty ColumnValues.
func NewColumnValues() ColumnValues {
	return orderedmap.New[string, any]()
}

// ExecuteQueryInput is the input for the execute_query tool.
type ExecuteQueryInput struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
	// SkipSafety turns off the destructive-statement check (safe_mode=false).
	SkipSafety bool `json:"-"`
}

// GetTableSchemaInput is the input for the get_table_schema tool.
type GetTableSchemaInput struct {
	Table  string `json:"table_name"`
	Schema string `json:"schema_name"` // defaults to "public"
}

// SelectInput is the input for the select_data tool.
type SelectInput struct {
	Table   string `json:"table_name"`
	Columns string `json:"columns"`      // defaults to "*"
	Where   string `json:"where_clause"` // optional, inlined as written
	Limit   *int   `json:"limit"`        // nil means 100
	Schema  string `json:"schema_name"`
}

// InsertInput is the input for the insert_data tool.
type InsertInput struct {
	Table  string       `json:"table_name"`
	Data   ColumnValues `json:"data"`
	Schema string       `json:"schema_name"`
}

// UpdateInput is the input for the update_data tool.
type UpdateInput struct {
	Table  string       `json:"table_name"`
	Data   ColumnValues `json:"data"`
	Where  string       `json:"where_clause"` // required, inlined as written
	Schema string       `json:"schema_name"`
}

// DeleteInput is the input for the delete_data tool.
type DeleteInput struct {
	Table  string `json:"table_name"`
	Where  string `json:"where_clause"` // required, inlined as written
	Schema string `json:"schema_name"`
}
