package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "turns"

// ChromemIndex stores turn embeddings in chromem-go, an embedded pure-Go
// vector database. All sessions share one collection; isolation comes from a
// session_id metadata filter on every query.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemIndex creates an in-memory index. Pass a non-empty path to
// persist the index to disk; persistence is an optimization, the session log
// remains the source of truth either way.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(path) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: open persistent index: %v", ErrIndexUnavailable, err)
		}
	}

	// Embeddings are provided by the caller, so no embedding func is wired.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", ErrIndexUnavailable, err)
	}
	return &ChromemIndex{db: db, col: col}, nil
}

func docID(sessionID string, turnIndex int) string {
	return fmt.Sprintf("%s#%d", sessionID, turnIndex)
}

func (x *ChromemIndex) Insert(ctx context.Context, entry Entry) error {
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("%w: entry has no embedding", ErrIndexUnavailable)
	}

	doc := chromem.Document{
		// Same (session, turn) always maps to the same document ID, so a
		// retried insert replaces rather than duplicates.
		ID:        docID(entry.SessionID, entry.TurnIndex),
		Content:   entry.Snippet,
		Embedding: entry.Embedding,
		Metadata: map[string]string{
			"session_id": entry.SessionID,
			"role":       entry.Role,
			"turn_index": strconv.Itoa(entry.TurnIndex),
		},
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (x *ChromemIndex) Query(ctx context.Context, sessionID string, embedding []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	total := x.col.Count()
	if total == 0 {
		return nil, nil
	}
	if k > total {
		k = total
	}

	where := map[string]string{"session_id": sessionID}

	// Fetch the session's whole population and rank locally: chromem's own
	// top-k cut is unordered on equal similarity, and the recency tie-break
	// must be applied before truncation, not after. Sessions are small so
	// this stays cheap.
	//
	// chromem also rejects nResults larger than the matching document count,
	// and the per-session count is not directly observable. Walk the limit
	// down until the query is accepted.
	var raw []chromem.Result
	for limit := total; limit >= 1; limit-- {
		var err error
		raw, err = x.col.QueryEmbedding(ctx, embedding, limit, where, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		turnIndex, err := strconv.Atoi(r.Metadata["turn_index"])
		if err != nil {
			continue
		}
		results = append(results, Result{
			Entry: Entry{
				SessionID: r.Metadata["session_id"],
				TurnIndex: turnIndex,
				Role:      r.Metadata["role"],
				Snippet:   r.Content,
				Embedding: r.Embedding,
			},
			Score: r.Similarity,
		})
	}

	// Highest score first; equal scores prefer the more recent turn.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].TurnIndex > results[j].TurnIndex
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (x *ChromemIndex) DeleteSession(ctx context.Context, sessionID string) error {
	err := x.col.Delete(ctx, map[string]string{"session_id": sessionID}, nil)
	if err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrIndexUnavailable, err)
	}
	return nil
}

func (x *ChromemIndex) Close() error { return nil }

func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
