package domain

// StoreHit is a raw evidence-store match. Score is the store similarity in [0,1]
// for vector hits and an unnormalized relevance for keyword hits.
type StoreHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Evidence is a retrieved chunk. Score is the ranking score (0-10+ after re-ranking),
// Similarity the underlying retrieval similarity in [0,1].
type Evidence struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score"`
	Similarity float64           `json:"similarity"`
	ExactQuote string            `json:"exact_quote,omitempty"`
}

type VerifiedEvidence struct {
	Evidence
	IsDirectlyRelevant bool    `json:"is_directly_relevant"`
	RelevanceScore     float64 `json:"relevance_score"`
}

// Source is the externally visible reference to evidence backing an accepted answer.
type Source struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
