package store

// MaxInValues is the backend's hard cap on equality-membership ("value in
// set") queries. Larger target sets must be chunked by the subscription
// multiplexer.
const MaxInValues = 10

// Query describes a live equality-membership query over one collection.
// Limit bounds the initial snapshot per query (most recent first).
type Query struct {
	Collection string
	Field      string
	In         []string
	Limit      int
}

func (q Query) Validate() error {
	if len(q.In) > MaxInValues {
		return ErrInClauseTooLarge
	}
	return nil
}

// Matches reports whether a document's indexed fields satisfy the query.
func (q Query) Matches(fields map[string][]string) bool {
	values, ok := fields[q.Field]
	if !ok {
		return false
	}
	for _, want := range q.In {
		for _, have := range values {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Chunk splits an oversized query into ceil(n/MaxInValues) queries that each
// satisfy the backend limit. A query already within the limit is returned
// as-is.
func (q Query) Chunk() []Query {
	if len(q.In) <= MaxInValues {
		return []Query{q}
	}
	var chunks []Query
	for start := 0; start < len(q.In); start += MaxInValues {
		end := start + MaxInValues
		if end > len(q.In) {
			end = len(q.In)
		}
		chunk := q
		chunk.In = q.In[start:end]
		chunks = append(chunks, chunk)
	}
	return chunks
}
