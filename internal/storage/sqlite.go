package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding conversations, the retrieval cache,
// search policies, feedback history, and semantic facts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "scout.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: serializes writers, which gives cache puts the
	// one-complete-row-at-a-time guarantee without explicit locks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Conversations & turns ---

// EnsureConversation inserts the conversation if it doesn't exist yet.
func (s *Store) EnsureConversation(id string) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// AppendTurn stores a turn, assigning the next index in its conversation.
func (s *Store) AppendTurn(t Turn) (Turn, error) {
	var next int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE conversation_id = ?`,
		t.ConversationID,
	).Scan(&next); err != nil {
		return Turn{}, fmt.Errorf("computing turn index: %w", err)
	}
	t.TurnIndex = next
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO turns (id, conversation_id, turn_index, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.TurnIndex, t.Role, t.Content,
		t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Turn{}, err
	}
	return t, nil
}

// RecentTurns returns the last n turns of a conversation in chronological
// order.
func (s *Store) RecentTurns(conversationID string, n int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, turn_index, role, content, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY turn_index DESC LIMIT ?`,
		conversationID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.TurnIndex, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// --- Cache ---

// GetCache returns the entry for key if present and unexpired. Expired rows
// are deleted on read and reported as ErrNotFound.
func (s *Store) GetCache(key string, now time.Time) (CacheEntry, error) {
	var e CacheEntry
	var expiresAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT key, result_json, expires_at, updated_at
		FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.Key, &e.ResultJSON, &expiresAt, &updatedAt)
	if err == sql.ErrNoRows {
		return CacheEntry{}, ErrNotFound
	}
	if err != nil {
		return CacheEntry{}, err
	}

	e.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if !now.Before(e.ExpiresAt) {
		s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return CacheEntry{}, ErrNotFound
	}
	return e, nil
}

// PutCache writes or overwrites the entry for its key. The single INSERT OR
// REPLACE keeps each write one complete row; concurrent writers race on
// last-write-wins but can never interleave fields.
func (s *Store) PutCache(e CacheEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cache_entries (key, result_json, expires_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		e.Key, e.ResultJSON,
		e.ExpiresAt.UTC().Format(time.RFC3339),
		e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// --- Search policies ---

// UpsertPolicy stores the policy, replacing any existing rules for the same
// pattern (last write wins).
func (s *Store) UpsertPolicy(p SearchPolicy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("marshalling rules: %w", err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO search_policies (pattern, rules_json, updated_at)
		VALUES (?, ?, ?)`,
		p.Pattern, string(rules), p.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// Policies returns all stored search policies ordered by pattern.
func (s *Store) Policies() ([]SearchPolicy, error) {
	rows, err := s.db.Query(`
		SELECT pattern, rules_json, updated_at FROM search_policies ORDER BY pattern`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchPolicy
	for rows.Next() {
		var p SearchPolicy
		var rulesJSON, updatedAt string
		if err := rows.Scan(&p.Pattern, &rulesJSON, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
			return nil, fmt.Errorf("unmarshalling rules for %q: %w", p.Pattern, err)
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindPolicy returns the first policy matching the topic/domain, preferring
// longer (more specific) patterns.
func (s *Store) FindPolicy(topic, domain string) (SearchPolicy, bool, error) {
	policies, err := s.Policies()
	if err != nil {
		return SearchPolicy{}, false, err
	}
	best := -1
	for i, p := range policies {
		if !p.Matches(topic, domain) {
			continue
		}
		if best < 0 || len(p.Pattern) > len(policies[best].Pattern) {
			best = i
		}
	}
	if best < 0 {
		return SearchPolicy{}, false, nil
	}
	return policies[best], true, nil
}

// UpsertPolicies applies a batch of policies atomically, last write wins
// per pattern. Patterns outside the batch are left untouched, so the
// learning pass can recompute its own patterns without erasing policies
// taught explicitly. Used by the learning pass after each detected event.
func (s *Store) UpsertPolicies(policies []SearchPolicy) error {
	if len(policies) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range policies {
		rules, err := json.Marshal(p.Rules)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshalling rules: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO search_policies (pattern, rules_json, updated_at)
			VALUES (?, ?, ?)`,
			p.Pattern, string(rules), now,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --- Feedback events ---

// AppendFeedbackEvent stores an event. Events are append-only; there is no
// update path by design.
func (s *Store) AppendFeedbackEvent(e FeedbackEvent) error {
	types, err := json.Marshal(e.Types)
	if err != nil {
		return err
	}
	tools, err := json.Marshal(e.PreferredTools)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO feedback_events
		(id, conversation_id, target_turn_id, raw_text, types_json, severity,
		 corrected_fact, preferred_tools_json, style_prefs, time_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.TargetTurnID, e.RawText, string(types),
		e.Severity, e.CorrectedFact, string(tools), e.StylePrefs, e.TimeNotes,
		e.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// FeedbackEvents returns the full event history in insertion order.
func (s *Store) FeedbackEvents() ([]FeedbackEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, target_turn_id, raw_text, types_json,
		       severity, corrected_fact, preferred_tools_json, style_prefs,
		       time_notes, created_at
		FROM feedback_events ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeedbackEvent
	for rows.Next() {
		var e FeedbackEvent
		var typesJSON, toolsJSON, createdAt string
		var targetTurn, fact, style, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.ConversationID, &targetTurn, &e.RawText,
			&typesJSON, &e.Severity, &fact, &toolsJSON, &style, &notes, &createdAt); err != nil {
			return nil, err
		}
		e.TargetTurnID = targetTurn.String
		e.CorrectedFact = fact.String
		e.StylePrefs = style.String
		e.TimeNotes = notes.String
		if err := json.Unmarshal([]byte(typesJSON), &e.Types); err != nil {
			return nil, fmt.Errorf("unmarshalling types for %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(toolsJSON), &e.PreferredTools); err != nil {
			return nil, fmt.Errorf("unmarshalling tools for %s: %w", e.ID, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Tool use events ---

func (s *Store) AppendToolUse(e ToolUseEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO tool_use_events (id, conversation_id, tool, query, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConversationID, e.Tool, e.Query, success, e.Error,
		e.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) ToolUseEvents() ([]ToolUseEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, tool, query, success, error, created_at
		FROM tool_use_events ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolUseEvent
	for rows.Next() {
		var e ToolUseEvent
		var success int
		var convID, errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &convID, &e.Tool, &e.Query, &success, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		e.ConversationID = convID.String
		e.Error = errMsg.String
		e.Success = success == 1
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Semantic facts ---

func (s *Store) UpsertFact(f SemanticFact) error {
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO semantic_facts (topic, fact, source, updated_at)
		VALUES (?, ?, ?, ?)`,
		f.Topic, f.Fact, f.Source, f.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFact(topic string) (SemanticFact, error) {
	var f SemanticFact
	var source sql.NullString
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT topic, fact, source, updated_at FROM semantic_facts WHERE topic = ?`,
		topic,
	).Scan(&f.Topic, &f.Fact, &source, &updatedAt)
	if err == sql.ErrNoRows {
		return SemanticFact{}, ErrNotFound
	}
	if err != nil {
		return SemanticFact{}, err
	}
	f.Source = source.String
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return f, nil
}

func (s *Store) AllFacts() ([]SemanticFact, error) {
	rows, err := s.db.Query(`
		SELECT topic, fact, source, updated_at FROM semantic_facts ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SemanticFact
	for rows.Next() {
		var f SemanticFact
		var source sql.NullString
		var updatedAt string
		if err := rows.Scan(&f.Topic, &f.Fact, &source, &updatedAt); err != nil {
			return nil, err
		}
		f.Source = source.String
		f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}
