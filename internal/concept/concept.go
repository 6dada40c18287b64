// Package concept holds the provenance-tagged candidate type returned to
// callers and the merger that combines folklore retrieval hits with
// generated candidates.
package concept

// Source tags where a Candidate came from.
type Source string

const (
	SourceRetrieval  Source = "retrieval"
	SourceGenerative Source = "generative"
)

// Labels describing how a candidate was produced.
const (
	LabelDatabase          = "database"
	LabelLLMGenerated      = "llm-generated"
	LabelFallback          = "fallback"
	LabelRateLimitFallback = "rate-limit-fallback"
)

// MaxRetrievalCandidates is how many folklore hits the merger turns into
// candidates.
const MaxRetrievalCandidates = 2

// Candidate is one named supernatural entity.
type Candidate struct {
	Source      Source `json:"source"`
	Name        string `json:"name"`
	Reading     string `json:"reading"`
	Description string `json:"description"`
	Label       string `json:"label"`
	// FolkloreRef is the retrieval id, set for retrieval candidates only.
	FolkloreRef string `json:"folkloreRef,omitempty"`
	// NamingType is an optional naming subtype for generative candidates.
	NamingType string `json:"namingType,omitempty"`
}

// FolkloreHit is one ranked result from the folklore corpus search.
type FolkloreHit struct {
	ID       string `json:"id" validate:"required"`
	KaiiName string `json:"kaiiName" validate:"required"`
	Content  string `json:"content"`
}

// Placeholder returns the fixed stand-in candidate used whenever no
// generated candidate is available.
func Placeholder(label string) Candidate {
	return Candidate{
		Source:      SourceGenerative,
		Name:        "名無しの妖",
		Reading:     "ななしのあやかし",
		Description: "まだ名前のない気配。あなたの話を聞いて、静かに形を得ようとしている。",
		Label:       label,
		NamingType:  "unknown",
	}
}

// Merge returns up to MaxRetrievalCandidates retrieval candidates in rank
// order followed by every generated candidate in emission order. Generated
// entries are re-tagged as generative. Names are not de-duplicated across
// sources. The result is never empty: a fallback placeholder stands in when
// generated is empty.
func Merge(hits []FolkloreHit, generated []Candidate) []Candidate {
	if len(hits) > MaxRetrievalCandidates {
		hits = hits[:MaxRetrievalCandidates]
	}
	if len(generated) == 0 {
		generated = []Candidate{Placeholder(LabelFallback)}
	}

	out := make([]Candidate, 0, len(hits)+len(generated))
	for _, h := range hits {
		out = append(out, FromHit(h))
	}
	for _, g := range generated {
		g.Source = SourceGenerative
		g.FolkloreRef = ""
		out = append(out, g)
	}
	return out
}

// FromHit converts a folklore hit into a retrieval candidate.
func FromHit(h FolkloreHit) Candidate {
	return Candidate{
		Source:      SourceRetrieval,
		Name:        h.KaiiName,
		Description: h.Content,
		Label:       LabelDatabase,
		FolkloreRef: h.ID,
	}
}
