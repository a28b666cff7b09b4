// Package corpus implements the semantic case corpus and retriever (C2): a
// persisted collection of verified emergency-text exemplars, searchable by
// cosine similarity over embedded vectors.
package corpus

import (
	"context"
	"fmt"
	"log"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	"medtriage/internal/embedding"
	"medtriage/internal/types"
)

const collectionName = "triage_cases"

// Config configures a Corpus.
type Config struct {
	// PersistPath, if non-empty, makes the corpus durable on disk.
	// Empty means in-memory only (useful for tests).
	PersistPath string
	Embedder    embedding.Embedder
}

// Corpus wraps a chromem-go collection of verified case exemplars.
type Corpus struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embedding.Embedder
}

// New opens (or creates) the case corpus collection.
func New(cfg Config) (*Corpus, error) {
	embedder := cfg.Embedder
	if embedder == nil {
		embedder = embedding.NewLocalEmbedder(nil)
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent case corpus: %w", err)
		}
		log.Printf("[INFO] case corpus opened at %s", cfg.PersistPath)
	} else {
		db = chromem.NewDB()
		log.Printf("[INFO] case corpus running in-memory")
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("get or create case collection: %w", err)
	}

	return &Corpus{db: db, collection: collection, embedder: embedder}, nil
}

// Match is one retrieval result: a case plus its distance and derived
// confidence. Distance is 1 - cosine similarity, bounded to [0,2] since
// embedding vectors are L2-normalized; Confidence is
// max(0, 1 - Distance/2), which clamps out the negative similarities the
// local embedder can legitimately produce for unrelated text.
type Match struct {
	Case       types.Case
	Distance   float64
	Confidence float64
}

// Seed loads initial exemplar cases into the corpus. Every case is written,
// including IDs that are already present; a case with an existing ID is
// stored again under that ID rather than skipped.
func (c *Corpus) Seed(ctx context.Context, cases []types.Case) error {
	for _, cs := range cases {
		if err := c.add(ctx, cs); err != nil {
			return fmt.Errorf("seed case %s: %w", cs.ID, err)
		}
	}
	log.Printf("[INFO] case corpus seeded with %d exemplars", len(cases))
	return nil
}

// Promote adds a verified feedback-corrected case to the corpus, marking it
// as a promoted (not seed) exemplar so it becomes retrievable for future
// classifications (spec invariant I5).
func (c *Corpus) Promote(ctx context.Context, text string, cond types.Condition, sev types.Severity) (types.Case, error) {
	cs := types.Case{
		ID:        uuid.NewString(),
		Text:      text,
		Condition: cond,
		Severity:  sev,
		Verified:  true,
		Source:    "promoted",
		CreatedAt: time.Now(),
	}
	if err := c.add(ctx, cs); err != nil {
		return types.Case{}, err
	}
	return cs, nil
}

func (c *Corpus) add(ctx context.Context, cs types.Case) error {
	meta := map[string]string{
		"condition": string(cs.Condition),
		"severity":  string(cs.Severity),
		"source":    cs.Source,
		"verified":  boolString(cs.Verified),
	}
	return c.collection.AddDocument(ctx, chromem.Document{
		ID:       cs.ID,
		Content:  cs.Text,
		Metadata: meta,
	})
}

// Query returns the nResults most similar cases to text.
func (c *Corpus) Query(ctx context.Context, text string, nResults int) ([]Match, error) {
	if c.collection.Count() == 0 {
		return nil, nil
	}
	if nResults > c.collection.Count() {
		nResults = c.collection.Count()
	}

	results, err := c.collection.Query(ctx, text, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query case corpus: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		distance := 1 - float64(r.Similarity)
		if distance < 0 {
			distance = 0
		} else if distance > 2 {
			distance = 2
		}
		confidence := 1 - distance/2
		if confidence < 0 {
			confidence = 0
		}
		matches = append(matches, Match{
			Case: types.Case{
				ID:        r.ID,
				Text:      r.Content,
				Condition: types.Condition(r.Metadata["condition"]),
				Severity:  types.Severity(r.Metadata["severity"]),
				Verified:  r.Metadata["verified"] == "true",
				Source:    r.Metadata["source"],
			},
			Distance:   distance,
			Confidence: confidence,
		})
	}
	return matches, nil
}

// Count returns the number of exemplars currently in the corpus.
func (c *Corpus) Count() int {
	return c.collection.Count()
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
