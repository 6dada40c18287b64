package composer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bakebake-xr/bakebake/internal/concept"
	"github.com/bakebake-xr/bakebake/internal/provider"
)

const (
	defaultMaxContextTokens = 1200
	// MaxFolkloreHits is how many retrieval hits are offered to the model as
	// reference material.
	MaxFolkloreHits = 3
)

const instructions = `あなたは日本の妖怪研究者であり、命名の名手です。来場者が語った「不思議な体験」から、新しい妖怪の候補を考えてください。

出力は JSON 配列のみとし、前後に説明文やマークダウンを付けないでください。各要素は次のフィールドを持つオブジェクトです:
- "name": 妖怪の名前（漢字またはかな）
- "reading": 名前の読み（ひらがな）
- "description": 2〜3文の説明
- "type": 命名の型。"place_action"（場所＋行為）、"appearance"（姿）、"sound"（音）、"phenomenon"（現象）のいずれか

候補は 2〜3 件。参考伝承と同じ名前を使ってもかまいません。`

// Composer builds the generation prompt from a visitor's story, their
// answers, and the folklore retrieved for it.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for folklore context.
// If maxContextTokens <= 0, the default (1200) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the prompt text. Answers are emitted sorted by key so the
// same request always produces the same prompt. At most MaxFolkloreHits hits
// are included, in rank order, each truncated to fit the token budget.
func (c *Composer) Compose(story string, answers map[string]string, hits []concept.FolkloreHit) string {
	var sb strings.Builder
	sb.WriteString(instructions)

	if s := strings.TrimSpace(story); s != "" {
		fmt.Fprintf(&sb, "\n\n[来場者の語り]\n%s", s)
	}

	if len(answers) > 0 {
		sb.WriteString("\n\n[質問への回答]\n")
		keys := make([]string, 0, len(answers))
		for k := range answers {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, strings.TrimSpace(answers[k]))
		}
	}

	sb.WriteString(c.buildFolklore(hits))
	return sb.String()
}

// buildFolklore renders the reference section. The budget is split evenly
// between the hits so a long first hit cannot crowd out the others.
func (c *Composer) buildFolklore(hits []concept.FolkloreHit) string {
	if len(hits) > MaxFolkloreHits {
		hits = hits[:MaxFolkloreHits]
	}
	if len(hits) == 0 {
		return ""
	}

	header := "\n\n[参考伝承]\n"
	perHit := (c.MaxContextTokens - EstimateTokens(header)) / len(hits)

	var sb strings.Builder
	sb.WriteString(header)
	for i, h := range hits {
		entry := fmt.Sprintf("%d. %s\n", i+1, h.KaiiName)
		content := truncate(strings.TrimSpace(h.Content), (perHit-EstimateTokens(entry))*4)
		if content != "" {
			entry += content + "\n"
		}
		sb.WriteString(entry)
	}
	return sb.String()
}

// truncate cuts s to at most maxBytes, on a rune boundary, marking the cut.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := 0
	for i := range s {
		if i > maxBytes-len("…") {
			break
		}
		cut = i
	}
	return s[:cut] + "…"
}

// EstimateTokens provides a rough token count using 4 bytes per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// OutputSchema is the structured-output hint sent with every prompt.
func OutputSchema() *provider.Schema {
	str := func(desc string) *provider.Schema {
		return &provider.Schema{Type: "string", Description: desc}
	}
	return &provider.Schema{
		Type: "array",
		Items: &provider.Schema{
			Type: "object",
			Properties: map[string]*provider.Schema{
				"name":        str("Name of the yokai"),
				"reading":     str("Hiragana reading of the name"),
				"description": str("Two or three sentence description"),
				"type":        str("Naming type: place_action, appearance, sound or phenomenon"),
			},
			Required: []string{"name", "reading", "description", "type"},
		},
	}
}
