package store

import (
	"encoding/json"
	"time"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Document is the store-agnostic snapshot of one row handed to watchers.
// Fields carries the indexed equality fields a query can match on; a field
// may be multi-valued (tags). UpdatedAt orders competing observations of the
// same document when chunk streams are merged.
type Document struct {
	ID        string
	Data      json.RawMessage
	Fields    map[string][]string
	UpdatedAt time.Time
}

// DocEvent is one observed mutation on a collection.
type DocEvent struct {
	Kind       ChangeKind
	Collection string
	Doc        Document
}

// Changeset is one delivered batch of mutations keyed by document id.
// Consumers must apply all three categories, never assume only additions.
type Changeset struct {
	Added    map[string]Document
	Modified map[string]Document
	Removed  map[string]Document
}

func NewChangeset() Changeset {
	return Changeset{
		Added:    map[string]Document{},
		Modified: map[string]Document{},
		Removed:  map[string]Document{},
	}
}

func (c Changeset) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

func (c Changeset) Size() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Apply folds one event into the changeset, preferring the most recent
// observed write per document id. A removal supersedes any earlier add or
// modify of the same document within the batch.
func (c *Changeset) Apply(ev DocEvent) {
	id := ev.Doc.ID
	switch ev.Kind {
	case ChangeRemoved:
		delete(c.Added, id)
		delete(c.Modified, id)
		c.Removed[id] = ev.Doc
	case ChangeAdded:
		if existing, ok := c.Added[id]; ok && existing.UpdatedAt.After(ev.Doc.UpdatedAt) {
			return
		}
		delete(c.Removed, id)
		delete(c.Modified, id)
		c.Added[id] = ev.Doc
	case ChangeModified:
		if _, wasAdded := c.Added[id]; wasAdded {
			// still unseen by the consumer, fold into the pending add
			c.Added[id] = ev.Doc
			return
		}
		if existing, ok := c.Modified[id]; ok && existing.UpdatedAt.After(ev.Doc.UpdatedAt) {
			return
		}
		delete(c.Removed, id)
		c.Modified[id] = ev.Doc
	}
}
