// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/model persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_history (
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			chat_title TEXT NOT NULL,
			history_json BLOB NOT NULL,
			created_on DATETIME NOT NULL,
			net_token_consumption INTEGER NOT NULL DEFAULT 0,
			visible INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, chat_id)
		);

		CREATE INDEX IF NOT EXISTS idx_chat_history_visible
			ON chat_history(user_id, visible);

		CREATE TABLE IF NOT EXISTS available_models (
			deployment_id TEXT PRIMARY KEY,
			deployment_name TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL,
			api_key TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS user_subscriptions (
			user_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			created_on DATETIME NOT NULL,
			PRIMARY KEY (user_id, model_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation conditionally inserts a conversation row.
// ON CONFLICT DO NOTHING makes the duplicate-create race benign: the second
// writer observes zero affected rows and reports created=false.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) (bool, error) {
	historyJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return false, fmt.Errorf("marshaling transcript: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (user_id, chat_id, chat_title, history_json, created_on, net_token_consumption, visible)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, chat_id) DO NOTHING`,
		conv.UserID, conv.ChatID, conv.Title, historyJSON, conv.CreatedOn, conv.NetTokenConsumption)
	if err != nil {
		return false, fmt.Errorf("inserting conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}

	created := affected > 0
	if !created {
		s.logger.Debug("conversation already existed",
			"user_id", conv.UserID,
			"chat_id", conv.ChatID)
	}
	return created, nil
}

// AppendTurn replaces the stored transcript and token counter.
// Unconditional: concurrent turns on one chat id are not serialized and
// the last writer wins.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID, chatID string, messages []Message, netTokens int) error {
	historyJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE chat_history
		SET history_json = ?, created_on = ?, net_token_consumption = ?
		WHERE user_id = ? AND chat_id = ?`,
		historyJSON, time.Now().UTC(), netTokens, userID, chatID)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return nil
}

// GetVisibleConversation returns the conversation if its visibility flag is set
func (s *SQLiteStore) GetVisibleConversation(ctx context.Context, userID, chatID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_title, history_json, created_on, net_token_consumption
		FROM chat_history
		WHERE user_id = ? AND chat_id = ? AND visible = 1`,
		userID, chatID)

	var (
		title       string
		historyJSON []byte
		createdOn   time.Time
		netTokens   int
	)
	if err := row.Scan(&title, &historyJSON, &createdOn, &netTokens); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(historyJSON, &messages); err != nil {
		return nil, fmt.Errorf("unmarshaling transcript: %w", err)
	}

	return &Conversation{
		UserID:              userID,
		ChatID:              chatID,
		Title:               title,
		Messages:            messages,
		CreatedOn:           createdOn,
		NetTokenConsumption: netTokens,
		Visible:             true,
	}, nil
}

// RenameConversation sets a new title on a visible conversation
func (s *SQLiteStore) RenameConversation(ctx context.Context, userID, chatID, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_history SET chat_title = ?
		WHERE user_id = ? AND chat_id = ? AND visible = 1`,
		title, userID, chatID)
	if err != nil {
		return false, fmt.Errorf("renaming conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rename result: %w", err)
	}
	return affected > 0, nil
}

// SoftDeleteConversation flips the visibility flag; never reversed
func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, userID, chatID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_history SET visible = 0
		WHERE user_id = ? AND chat_id = ? AND visible = 1`,
		userID, chatID)
	if err != nil {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return affected > 0, nil
}

// ListVisibleConversations returns the user's visible conversations, most recent first
func (s *SQLiteStore) ListVisibleConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, chat_title, created_on
		FROM chat_history
		WHERE user_id = ? AND visible = 1
		ORDER BY created_on DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		if err := rows.Scan(&sum.ChatID, &sum.Title, &sum.LastActivity); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// GetModel returns an active model deployment
func (s *SQLiteStore) GetModel(ctx context.Context, deploymentID string) (*Model, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, deployment_name, provider, endpoint, api_key
		FROM available_models
		WHERE deployment_id = ? AND is_active = 1`,
		deploymentID)

	var m Model
	if err := row.Scan(&m.DeploymentID, &m.DeploymentName, &m.Provider, &m.Endpoint, &m.APIKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("querying model: %w", err)
	}
	m.Active = true
	return &m, nil
}

// IsSubscribed reports whether the user is entitled to use the model
func (s *SQLiteStore) IsSubscribed(ctx context.Context, userID, modelID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM user_subscriptions
		WHERE user_id = ? AND model_id = ?
		LIMIT 1`,
		userID, modelID)

	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("querying subscription: %w", err)
	}
	return true, nil
}

// UpsertModel inserts or replaces a model deployment row
func (s *SQLiteStore) UpsertModel(ctx context.Context, model *Model) error {
	active := 0
	if model.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO available_models (deployment_id, deployment_name, provider, endpoint, api_key, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id) DO UPDATE SET
			deployment_name = excluded.deployment_name,
			provider = excluded.provider,
			endpoint = excluded.endpoint,
			api_key = excluded.api_key,
			is_active = excluded.is_active`,
		model.DeploymentID, model.DeploymentName, model.Provider, model.Endpoint, model.APIKey, active)
	if err != nil {
		return fmt.Errorf("upserting model: %w", err)
	}
	return nil
}

// GrantSubscription entitles a user to a model deployment
func (s *SQLiteStore) GrantSubscription(ctx context.Context, userID, modelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, model_id, created_on)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, model_id) DO NOTHING`,
		userID, modelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("granting subscription: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
