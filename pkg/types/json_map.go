package types

// JSONMap holds free-form metadata persisted as jsonb.
type JSONMap map[string]any
