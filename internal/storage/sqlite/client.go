package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/storage/models"
	"github.com/kb-agent/backend/pkg/logger"
	"github.com/kb-agent/backend/pkg/stats"
)

// Client is the metadata store adapter. The chunk_records table is
// written by the ingestion pipeline; this service only reads it. The
// query history, sources and feedback tables are owned here.
type Client struct {
	db      *sql.DB
	path    string
	tracker *stats.Tracker
}

func NewClient(dbPath string) *Client {
	return &Client{
		path:    dbPath,
		tracker: stats.NewTracker(),
	}
}

func (c *Client) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite3", c.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c.db = db

	logger.Info("SQLite client initialized", zap.String("path", c.path))
	return nil
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Client) Statistics() stats.Snapshot {
	return c.tracker.Snapshot()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunk_records (
		chunk_id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_identifier TEXT NOT NULL,
		summary TEXT,
		metadata TEXT,
		ingested_at INTEGER NOT NULL,
		source_last_modified INTEGER,
		content_hash TEXT,
		ingestion_status TEXT NOT NULL DEFAULT 'pending'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunk_records(source_identifier);
	CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunk_records(ingestion_status);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		confidence REAL,
		vector_results_count INTEGER,
		chunks_assembled INTEGER,
		graph_entities_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT,
		chunk_id TEXT,
		confidence REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		issue_category TEXT,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// FetchByIDs returns the chunk records for the given ids. Ids with no
// row are simply absent from the result; row order is not guaranteed to
// match input order.
func (c *Client) FetchByIDs(ctx context.Context, chunkIDs []string) ([]models.ChunkRecord, error) {
	if len(chunkIDs) == 0 {
		return []models.ChunkRecord{}, nil
	}

	start := time.Now()

	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT chunk_id, source_type, source_identifier, summary, metadata,
		       ingested_at, source_last_modified, content_hash, ingestion_status
		FROM chunk_records
		WHERE chunk_id IN (%s)
	`, placeholders)

	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk records: %w", err)
	}
	defer rows.Close()

	records := make([]models.ChunkRecord, 0, len(chunkIDs))
	for rows.Next() {
		var r models.ChunkRecord
		var metadataJSON sql.NullString
		var summary sql.NullString
		var contentHash sql.NullString
		var ingestedAt int64
		var lastModified sql.NullInt64

		err := rows.Scan(
			&r.ChunkID,
			&r.SourceType,
			&r.SourceIdentifier,
			&summary,
			&metadataJSON,
			&ingestedAt,
			&lastModified,
			&contentHash,
			&r.IngestionStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Summary = summary.String
		r.ContentHash = contentHash.String
		r.IngestedAt = time.Unix(ingestedAt, 0)
		if lastModified.Valid {
			t := time.Unix(lastModified.Int64, 0)
			r.SourceLastModifiedAt = &t
		}

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
				logger.Warn("Failed to decode chunk metadata, keeping record without it",
					zap.String("chunk_id", r.ChunkID),
					zap.Error(err),
				)
				r.Metadata = nil
			}
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	c.tracker.Record(len(records), time.Since(start))

	logger.Debug("Chunk records hydrated",
		zap.Int("requested", len(chunkIDs)),
		zap.Int("found", len(records)),
	)

	return records, nil
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, user_id, query_text, response, confidence,
			vector_results_count, chunks_assembled, graph_entities_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.UserID,
		record.QueryText,
		record.Response,
		record.Confidence,
		record.VectorResultsCount,
		record.ChunksAssembled,
		record.GraphEntitiesCount,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Float64("confidence", record.Confidence),
	)

	return nil
}

func (c *Client) InsertQuerySource(source *models.QuerySource) error {
	query := `INSERT INTO query_sources (query_id, source_type, source_id, chunk_id, confidence) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		source.QueryID,
		source.SourceType,
		source.SourceID,
		source.ChunkID,
		source.Confidence,
	)

	if err != nil {
		return fmt.Errorf("failed to insert query source: %w", err)
	}

	return nil
}

func (c *Client) GetQueryHistory(userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, query_text, response, confidence, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.QueryText, &r.Response, &r.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) StoreFeedback(feedback *models.Feedback) error {
	query := `INSERT INTO feedback (query_id, helpful, issue_category, comment, created_at) VALUES (?, ?, ?, ?, ?)`

	helpful := 0
	if feedback.Helpful {
		helpful = 1
	}

	_, err := c.db.Exec(
		query,
		feedback.QueryID,
		helpful,
		feedback.IssueCategory,
		feedback.Comment,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}
