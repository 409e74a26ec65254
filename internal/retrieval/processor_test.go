package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kb-agent/backend/internal/storage/models"
)

func matchesWithRecords(n int, baseScore float64) ([]models.VectorMatch, []models.ChunkRecord) {
	matches := make([]models.VectorMatch, 0, n)
	records := make([]models.ChunkRecord, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("chunk-%02d", i)
		matches = append(matches, match(id, baseScore))
		records = append(records, completedRecord(id, fmt.Sprintf("source-%02d", i), models.SourceRepository))
	}
	return matches, records
}

func TestProcessQueryWhenNotInitialized(t *testing.T) {
	c := NewCoordinator(&fakeVector{}, &fakeMetadata{})
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "what is a target group?")
	if got != MsgSystemsUnavailable {
		t.Errorf("got %q, want the systems-unavailable message", got)
	}
}

func TestProcessQueryWithNoMatchesSkipsHydration(t *testing.T) {
	vector := &fakeVector{}
	metadata := &fakeMetadata{}
	c := newTestCoordinator(t, vector, metadata)
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "quantum cheese farming")

	if got != MsgNoResults {
		t.Errorf("got %q, want the no-results message", got)
	}
	if metadata.fetchCalls != 0 {
		t.Errorf("metadata store consulted %d times for an empty search, want 0", metadata.fetchCalls)
	}
}

func TestProcessQueryHighConfidence(t *testing.T) {
	matches, records := matchesWithRecords(3, 0.85)
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "how does routing work?")

	if !strings.HasPrefix(got, "Based on highly relevant information I found:") {
		t.Errorf("expected high-confidence framing, got %q", got)
	}
	if !strings.Contains(got, "1. summary of chunk-00") {
		t.Errorf("expected the top chunk to be spelled out, got %q", got)
	}
	if strings.Contains(got, "I can refine the search") {
		t.Errorf("high-confidence response must not invite a follow-up: %q", got)
	}
}

func TestProcessQueryConfidenceTiers(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		wantPrefix string
		wantInvite bool
	}{
		{"high", 0.85, "Based on highly relevant information I found:", false},
		{"boundary high", 0.7, "Based on highly relevant information I found:", false},
		{"medium", 0.55, "Based on moderately relevant information I found:", false},
		{"medium with invite", 0.45, "Based on moderately relevant information I found:", true},
		{"boundary medium", 0.4, "Based on moderately relevant information I found:", true},
		{"low", 0.2, "I found some potentially related information:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, records := matchesWithRecords(2, tt.score)
			c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
			p := NewProcessor(c)

			got := p.ProcessQuery(context.Background(), "query")

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("got %q, want prefix %q", got, tt.wantPrefix)
			}
			invited := strings.Contains(got, "I can refine the search")
			if invited != tt.wantInvite {
				t.Errorf("follow-up invite = %v, want %v (confidence %v)", invited, tt.wantInvite, tt.score)
			}
		})
	}
}

func TestProcessQueryBoundsRenderedChunks(t *testing.T) {
	matches, records := matchesWithRecords(10, 0.8)
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "query")

	for i := 1; i <= 3; i++ {
		if !strings.Contains(got, fmt.Sprintf("%d. summary of chunk-%02d", i, i-1)) {
			t.Errorf("expected chunk %d to be detailed, got %q", i, got)
		}
	}
	if strings.Contains(got, "4. summary") {
		t.Errorf("no more than 3 chunks may be spelled out: %q", got)
	}
	// 8 cited, 3 detailed, so 5 remain summarized.
	if !strings.Contains(got, "...and 5 more related passages.") {
		t.Errorf("expected the overflow line for 5 remaining passages, got %q", got)
	}
}

func TestProcessQueryWithoutGraphOmitsConcepts(t *testing.T) {
	matches, records := matchesWithRecords(2, 0.8)
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "query")

	if strings.Contains(got, "Related concepts:") {
		t.Errorf("disabled graph must not surface concepts: %q", got)
	}
}

func TestProcessQueryIncludesGraphConcepts(t *testing.T) {
	matches, records := matchesWithRecords(2, 0.8)
	graph := &fakeGraph{graph: &models.GraphContext{
		Entities: []models.Entity{
			{ID: "e1", Name: "Auto Scaling"},
			{ID: "e2", Name: "Health Check"},
		},
		Relationships: []models.Relationship{},
	}}
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records}, WithGraph(graph, 20, 2))
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "query")

	if !strings.Contains(got, "Related concepts: Auto Scaling, Health Check.") {
		t.Errorf("expected graph concepts in the response, got %q", got)
	}
}

func TestProcessQueryHandlesMalformedInput(t *testing.T) {
	canned := map[string]bool{
		MsgSystemsUnavailable: true,
		MsgNoResults:          true,
		MsgProcessingError:    true,
	}

	tests := []struct {
		name  string
		query string
	}{
		{"empty string", ""},
		{"whitespace only", "   \t\n  "},
		{"extremely long", strings.Repeat("what is a load balancer? ", 4000)},
		{"control characters", "\x00\x01\x02 how does routing work?"},
		{"markup", "<script>alert('x')</script> {{template}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, &fakeVector{}, &fakeMetadata{})
			p := NewProcessor(c)

			got := p.ProcessQuery(context.Background(), tt.query)

			if got == "" {
				t.Fatal("ProcessQuery returned an empty string")
			}
			if !canned[got] {
				t.Errorf("expected one of the canned messages against an empty index, got %q", got)
			}
		})
	}
}

func TestProcessQueryRecoversFromPanic(t *testing.T) {
	matches, _ := matchesWithRecords(2, 0.8)
	metadata := &fakeMetadata{panicOn: true}
	c := newTestCoordinator(t, &fakeVector{matches: matches}, metadata)
	p := NewProcessor(c)

	got := p.ProcessQuery(context.Background(), "query")
	if got != MsgProcessingError {
		t.Errorf("got %q, want the processing-error message", got)
	}
}

func TestProcessQueryAlwaysReturnsText(t *testing.T) {
	configs := map[string]*Coordinator{
		"uninitialized": NewCoordinator(&fakeVector{}, &fakeMetadata{}),
		"empty search":  newTestCoordinator(t, &fakeVector{}, &fakeMetadata{}),
		"search error":  newTestCoordinator(t, &fakeVector{searchErr: fmt.Errorf("down")}, &fakeMetadata{}),
	}

	for name, c := range configs {
		t.Run(name, func(t *testing.T) {
			p := NewProcessor(c)
			if got := p.ProcessQuery(context.Background(), "query"); got == "" {
				t.Error("ProcessQuery returned an empty string")
			}
		})
	}
}

func TestProcessPopulatesResponseFields(t *testing.T) {
	matches, records := matchesWithRecords(3, 0.75)
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
	p := NewProcessor(c)

	resp := p.Process(context.Background(), Request{Query: "how do listeners work?", UserID: "u1"})

	if resp.ID == "" {
		t.Error("response must carry a query id")
	}
	if resp.Query != "how do listeners work?" {
		t.Errorf("Query = %q", resp.Query)
	}
	if resp.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want 0.75", resp.Confidence)
	}
	if len(resp.Sources) != 3 {
		t.Fatalf("Sources = %d, want 3", len(resp.Sources))
	}
	if resp.Sources[0].ChunkID != "chunk-00" || resp.Sources[0].SourceType != string(models.SourceRepository) {
		t.Errorf("unexpected first source: %+v", resp.Sources[0])
	}
}

func TestProcessorIsReusableAcrossQueries(t *testing.T) {
	matches, records := matchesWithRecords(2, 0.8)
	vector := &fakeVector{matches: matches}
	c := newTestCoordinator(t, vector, &fakeMetadata{records: records})
	p := NewProcessor(c)

	first := p.ProcessQuery(context.Background(), "query one")
	second := p.ProcessQuery(context.Background(), "query one")

	if first != second {
		t.Errorf("same inputs produced different responses:\n%q\n%q", first, second)
	}
	if vector.searchCalls != 2 {
		t.Errorf("searchCalls = %d, want 2", vector.searchCalls)
	}
}

type recordingHistory struct {
	records []*models.QueryRecord
	sources []*models.QuerySource
}

func (h *recordingHistory) InsertQueryRecord(record *models.QueryRecord) error {
	h.records = append(h.records, record)
	return nil
}

func (h *recordingHistory) InsertQuerySource(source *models.QuerySource) error {
	h.sources = append(h.sources, source)
	return nil
}

func TestProcessRecordsHistory(t *testing.T) {
	matches, records := matchesWithRecords(2, 0.8)
	c := newTestCoordinator(t, &fakeVector{matches: matches}, &fakeMetadata{records: records})
	history := &recordingHistory{}
	p := NewProcessor(c, WithHistory(history))

	resp := p.Process(context.Background(), Request{Query: "query", UserID: "u1"})

	if len(history.records) != 1 {
		t.Fatalf("recorded %d query records, want 1", len(history.records))
	}
	if history.records[0].ID != resp.ID {
		t.Errorf("history id = %q, want %q", history.records[0].ID, resp.ID)
	}
	if history.records[0].UserID != "u1" {
		t.Errorf("history user = %q, want u1", history.records[0].UserID)
	}
	if len(history.sources) != 2 {
		t.Errorf("recorded %d sources, want 2", len(history.sources))
	}
}
