package snapshot

// jsonSchemas are the raw-shape checks applied before a persisted snapshot
// is unmarshaled. Value-level rules (ratchet values, duplicates) are left to
// Decode.
var jsonSchemas = map[int]map[string]any{
	FormatVersion: {
		"type": "object",
		"properties": map[string]any{
			"version":      map[string]any{"const": FormatVersion},
			"sequence":     map[string]any{"type": "integer", "minimum": 0},
			"saved_at":     map[string]any{"type": "string"},
			"active_tube":  map[string]any{"type": "integer"},
			"cycle_count":  map[string]any{"type": "integer"},
			"total_points": map[string]any{"type": "integer"},
			"tubes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tube_number": map[string]any{"type": "integer"},
						"thread_id":   map[string]any{"type": "string"},
						"slots": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"stitch_id":         map[string]any{"type": "string"},
									"skip_number":       map[string]any{"type": "integer"},
									"distractor_level":  map[string]any{"type": "string"},
									"total_attempts":    map[string]any{"type": "integer"},
									"last_score":        map[string]any{"type": "integer"},
									"last_completed_at": map[string]any{"type": "string"},
								},
								"required":             []any{"stitch_id", "skip_number", "distractor_level"},
								"additionalProperties": false,
							},
						},
					},
					"required":             []any{"tube_number", "slots"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"version", "active_tube", "cycle_count", "tubes"},
		"additionalProperties": false,
	},
	LegacyFormatVersion: {
		"type": "object",
		"properties": map[string]any{
			"version":     map[string]any{"const": LegacyFormatVersion},
			"activeTube":  map[string]any{"type": "integer"},
			"cycleCount":  map[string]any{"type": "integer"},
			"totalPoints": map[string]any{"type": "integer"},
			"lastUpdated": map[string]any{"type": "string"},
			"tubes": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"threadId": map[string]any{"type": "string"},
						"positions": map[string]any{
							"type": "object",
							"additionalProperties": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"stitchId":        map[string]any{"type": "string"},
									"skipNumber":      map[string]any{"type": "integer"},
									"distractorLevel": map[string]any{"type": "string"},
									"totalAttempts":   map[string]any{"type": "integer"},
									"lastScore":       map[string]any{"type": "integer"},
									"lastCompleted":   map[string]any{"type": "string"},
								},
								"required": []any{"stitchId", "skipNumber", "distractorLevel"},
							},
						},
					},
					"required": []any{"positions"},
				},
			},
		},
		"required": []any{"version", "activeTube", "tubes"},
	},
}
