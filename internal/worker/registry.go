package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

var registry = map[string]func() Mutation{
	"AbandonRevisions":   func() Mutation { return &AbandonRevisions{} },
	"CheckoutRevision":   func() Mutation { return &CheckoutRevision{} },
	"CreateRevision":     func() Mutation { return &CreateRevision{} },
	"DuplicateRevisions": func() Mutation { return &DuplicateRevisions{} },
	"InsertRevision":     func() Mutation { return &InsertRevision{} },
	"MoveSource":         func() Mutation { return &MoveSource{} },
	"DescribeRevision":   func() Mutation { return &DescribeRevision{} },
	"CopyChanges":        func() Mutation { return &CopyChanges{} },
	"MoveChanges":        func() Mutation { return &MoveChanges{} },
	"MoveHunk":           func() Mutation { return &MoveHunk{} },
	"CreateBookmark":     func() Mutation { return &CreateBookmark{} },
	"DeleteBookmark":     func() Mutation { return &DeleteBookmark{} },
	"MoveBookmark":       func() Mutation { return &MoveBookmark{} },
	"UndoOperation":      func() Mutation { return &UndoOperation{} },
	"ImportGit":          func() Mutation { return &ImportGit{} },
}

// MutationKinds returns the names DecodeMutation accepts, sorted.
func MutationKinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DecodeMutation builds the mutation named kind from its JSON form. Unknown
// fields are rejected. An empty payload decodes to the zero mutation.
func DecodeMutation(kind string, raw []byte) (Mutation, error) {
	newMutation, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown mutation %q", kind)
	}
	m := newMutation()
	if len(bytes.TrimSpace(raw)) == 0 {
		return m, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return m, nil
}
