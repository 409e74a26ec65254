package neo4j

import (
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/kb-agent/backend/pkg/logger"

	"go.uber.org/zap"
)

// ExtractMentions pulls candidate entity names out of query text so the
// graph lookup can seed on them alongside chunk ids. Named entities are
// preferred; proper-noun tokens are kept as a fallback since short
// queries rarely carry enough context for the NER model.
func ExtractMentions(queryText string) []string {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return []string{}
	}

	doc, err := prose.NewDocument(queryText, prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("Failed to parse query for entity mentions", zap.Error(err))
		return []string{}
	}

	seen := make(map[string]bool)
	mentions := []string{}

	add := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		key := strings.ToLower(text)
		if !seen[key] {
			seen[key] = true
			mentions = append(mentions, text)
		}
	}

	for _, ent := range doc.Entities() {
		add(ent.Text)
	}

	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NNP") {
			add(tok.Text)
		}
	}

	return mentions
}
