package ontology

// Core returns the built-in system ontology: the node and edge types the
// ingestion pipeline and retrieval agents rely on. Callers usually extend it
// with domain types via Extend.
func Core() *Ontology {
	o := New()

	o.AddNodeType("DataSource",
		map[string]any{"name": "str", "type": "str"},
		[]string{"name"})

	o.AddNodeType("File",
		map[string]any{
			"file_name":     "str",
			"path":          "str",
			"uploaded_time": "float",
			"mime_type":     "str",
		},
		[]string{"file_name", "path"})

	// CSV rows carry arbitrary payloads, so nothing is required.
	o.AddNodeType("Row",
		map[string]any{
			"raw_data": "str",
			"id":       "str",
			"name":     "str",
		},
		nil)

	o.AddNodeType("Log",
		map[string]any{
			"timestamp":   "float",
			"type":        "str",
			"message":     "str",
			"data":        "str",
			"action":      "str",
			"params":      "str",
			"result":      "str",
			"details":     "str",
			"data_source": "str",
		},
		[]string{"timestamp"})

	o.AddNodeType("SearchResult",
		map[string]any{
			"content":      "str",
			"query_string": "str",
			"score":        "float",
		},
		[]string{"content", "query_string"})

	o.AddNodeType("Webhook",
		map[string]any{
			"event":     "str",
			"payload":   "str",
			"timestamp": "float",
		},
		[]string{"event", "timestamp"})

	o.AddEdgeType("HAS_FILE", map[string]any{"timestamp": "float"}, nil)
	o.AddEdgeType("HAS_ROW", map[string]any{"row_number": "int"}, nil)
	o.AddEdgeType("HAS_LOG", map[string]any{"timestamp": "float"}, nil)
	o.AddEdgeType("HAS_WEBHOOK", map[string]any{"timestamp": "float"}, nil)
	o.AddEdgeType("HAS_SYNC", map[string]any{"timestamp": "float"}, nil)

	return o
}

// Extend merges every type declared in ext into base and returns base.
// Types sharing a label are overwritten by the extension.
func Extend(base, ext *Ontology) *Ontology {
	for label, spec := range ext.nodeTypes {
		base.nodeTypes[label] = spec
	}
	for label, spec := range ext.edgeTypes {
		base.edgeTypes[label] = spec
	}
	return base
}
