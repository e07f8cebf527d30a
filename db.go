package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Named storage errors the service layer can branch on.
var (
	ErrDuplicateRecord    = errors.New("duplicate record")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// translateDBErr maps driver errors onto the named sentinels while keeping
// the original error in the chain.
func translateDBErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrDuplicateRecord, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return err
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS error_logs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       TEXT NOT NULL,
		misspelling   TEXT NOT NULL,
		correction    TEXT NOT NULL,
		error_type    TEXT NOT NULL,
		source        TEXT NOT NULL DEFAULT 'llm',
		language_code TEXT NOT NULL DEFAULT 'en',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_error_logs_user ON error_logs(user_id, created_at);

	CREATE TABLE IF NOT EXISTS error_patterns (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       TEXT NOT NULL,
		misspelling   TEXT NOT NULL,
		correction    TEXT NOT NULL,
		error_type    TEXT NOT NULL,
		frequency     INTEGER NOT NULL DEFAULT 1,
		first_seen    DATETIME NOT NULL,
		last_seen     DATETIME NOT NULL,
		improving     INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, misspelling, correction)
	);
	CREATE INDEX IF NOT EXISTS idx_error_patterns_user ON error_patterns(user_id, frequency);

	CREATE TABLE IF NOT EXISTS confusion_pairs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id          TEXT NOT NULL,
		word_a           TEXT NOT NULL,
		word_b           TEXT NOT NULL,
		confusion_count  INTEGER NOT NULL DEFAULT 1,
		last_confused_at DATETIME NOT NULL,
		UNIQUE(user_id, word_a, word_b)
	);

	CREATE TABLE IF NOT EXISTS personal_dictionary (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		word    TEXT NOT NULL,
		source  TEXT NOT NULL DEFAULT 'manual',
		UNIQUE(user_id, word)
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id                   TEXT PRIMARY KEY,
		correction_aggressiveness INTEGER NOT NULL DEFAULT 50,
		language_code             TEXT NOT NULL DEFAULT 'en'
	);

	CREATE TABLE IF NOT EXISTS weekly_snapshots (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		week_start   DATE NOT NULL,
		total_errors INTEGER NOT NULL,
		accuracy     REAL NOT NULL DEFAULT 0,
		top_types    TEXT NOT NULL DEFAULT '',
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, week_start)
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, updated_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	// Migration: add language_code column to error_patterns if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('error_patterns') WHERE name = 'language_code'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE error_patterns ADD COLUMN language_code TEXT NOT NULL DEFAULT 'en'`)
	}

	return db, nil
}

// --- Raw error logs ---

func InsertErrorLog(db *sql.DB, entry ErrorLog) error {
	_, err := db.Exec(
		`INSERT INTO error_logs (user_id, misspelling, correction, error_type, source, language_code)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Misspelling, entry.Correction, entry.ErrorType, entry.Source, entry.LanguageCode,
	)
	return translateDBErr(err)
}

func CountErrorsBetween(db *sql.DB, userID string, from, to time.Time) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM error_logs WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID, from, to,
	).Scan(&count)
	return count, translateDBErr(err)
}

func GetRecentLogs(db *sql.DB, userID string, limit int) ([]ErrorLog, error) {
	rows, err := db.Query(
		`SELECT id, user_id, misspelling, correction, error_type, source, language_code, created_at
		 FROM error_logs WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []ErrorLog
	for rows.Next() {
		var e ErrorLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.Misspelling, &e.Correction,
			&e.ErrorType, &e.Source, &e.LanguageCode, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountDistinctLogDays returns the length of the user's current daily writing
// streak: consecutive calendar days ending today (or yesterday) with at least
// one logged error.
func CountDistinctLogDays(db *sql.DB, userID string, now time.Time) (int, error) {
	rows, err := db.Query(
		`SELECT DISTINCT date(created_at) FROM error_logs
		 WHERE user_id = ? ORDER BY date(created_at) DESC LIMIT 366`,
		userID,
	)
	if err != nil {
		return 0, translateDBErr(err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return 0, err
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(days) == 0 {
		return 0, nil
	}

	// A streak may end today or yesterday (the user has not written yet today).
	cursor := now
	if days[0] != cursor.Format("2006-01-02") {
		cursor = cursor.AddDate(0, 0, -1)
		if days[0] != cursor.Format("2006-01-02") {
			return 0, nil
		}
	}
	streak := 0
	for _, d := range days {
		if d != cursor.Format("2006-01-02") {
			break
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return streak, nil
}

func GetLifetimeErrorCount(db *sql.DB, userID string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM error_logs WHERE user_id = ?`, userID).Scan(&count)
	return count, translateDBErr(err)
}

func DeleteLogsOlderThan(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM error_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, translateDBErr(err)
	}
	return res.RowsAffected()
}

func GetErrorCountsByTypeBetween(db *sql.DB, userID string, from, to time.Time) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT error_type, COUNT(*) FROM error_logs
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY error_type ORDER BY COUNT(*) DESC`,
		userID, from, to,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// --- Error patterns ---

// UpsertErrorPattern increments the aggregated pattern for (user,
// misspelling, correction), creating it on first sight. Read-check-then-write
// inside one transaction; concurrent writers for the same key may race and
// converge rather than serialize.
func UpsertErrorPattern(db *sql.DB, userID, misspelling, correction, errorType, languageCode string, seenAt time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return translateDBErr(err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM error_patterns WHERE user_id = ? AND misspelling = ? AND correction = ?`,
		userID, misspelling, correction,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO error_patterns (user_id, misspelling, correction, error_type, frequency, first_seen, last_seen, language_code)
			 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
			userID, misspelling, correction, errorType, seenAt, seenAt, languageCode,
		)
	case err == nil:
		_, err = tx.Exec(
			`UPDATE error_patterns SET frequency = frequency + 1, last_seen = ?, error_type = ? WHERE id = ?`,
			seenAt, errorType, id,
		)
	}
	if err != nil {
		return translateDBErr(err)
	}
	return translateDBErr(tx.Commit())
}

func GetPatternsByUser(db *sql.DB, userID string) ([]ErrorPattern, error) {
	rows, err := db.Query(
		`SELECT id, user_id, misspelling, correction, error_type, frequency, first_seen, last_seen, improving, language_code
		 FROM error_patterns WHERE user_id = ?
		 ORDER BY frequency DESC, last_seen DESC, id`,
		userID,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		if err := rows.Scan(&p.ID, &p.UserID, &p.Misspelling, &p.Correction, &p.ErrorType,
			&p.Frequency, &p.FirstSeen, &p.LastSeen, &p.Improving, &p.LanguageCode); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetImprovingByCutoff bulk-flips the improving flag: set on patterns whose
// last_seen predates cutoff, cleared on the rest. Returns rows changed.
func SetImprovingByCutoff(db *sql.DB, userID string, cutoff time.Time) (int64, error) {
	res, err := db.Exec(
		`UPDATE error_patterns
		 SET improving = CASE WHEN last_seen < ? THEN 1 ELSE 0 END
		 WHERE user_id = ?
		   AND improving <> CASE WHEN last_seen < ? THEN 1 ELSE 0 END`,
		cutoff, userID, cutoff,
	)
	if err != nil {
		return 0, translateDBErr(err)
	}
	return res.RowsAffected()
}

func GetNoChangePatterns(db *sql.DB, userID string, minFrequency int) ([]ErrorPattern, error) {
	rows, err := db.Query(
		`SELECT id, user_id, misspelling, correction, error_type, frequency, first_seen, last_seen, improving, language_code
		 FROM error_patterns
		 WHERE user_id = ? AND frequency >= ? AND improving = 0`,
		userID, minFrequency,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []ErrorPattern
	for rows.Next() {
		var p ErrorPattern
		if err := rows.Scan(&p.ID, &p.UserID, &p.Misspelling, &p.Correction, &p.ErrorType,
			&p.Frequency, &p.FirstSeen, &p.LastSeen, &p.Improving, &p.LanguageCode); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func CountPatternUpdatesSince(db *sql.DB, userID string, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM error_logs WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&count)
	return count, translateDBErr(err)
}

func GetActiveUserIDs(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT user_id FROM error_patterns ORDER BY user_id`)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Confusion pairs ---

// canonicalPair orders a word pair lexicographically so the uniqueness
// constraint is order-insensitive.
func canonicalPair(a, b string) (string, string) {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a > b {
		return b, a
	}
	return a, b
}

func UpsertConfusionPair(db *sql.DB, userID, wordA, wordB string, confusedAt time.Time) error {
	wordA, wordB = canonicalPair(wordA, wordB)
	tx, err := db.Begin()
	if err != nil {
		return translateDBErr(err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM confusion_pairs WHERE user_id = ? AND word_a = ? AND word_b = ?`,
		userID, wordA, wordB,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO confusion_pairs (user_id, word_a, word_b, confusion_count, last_confused_at)
			 VALUES (?, ?, ?, 1, ?)`,
			userID, wordA, wordB, confusedAt,
		)
	case err == nil:
		_, err = tx.Exec(
			`UPDATE confusion_pairs SET confusion_count = confusion_count + 1, last_confused_at = ? WHERE id = ?`,
			confusedAt, id,
		)
	}
	if err != nil {
		return translateDBErr(err)
	}
	return translateDBErr(tx.Commit())
}

func GetConfusionPairs(db *sql.DB, userID string) ([]ConfusionPair, error) {
	rows, err := db.Query(
		`SELECT id, user_id, word_a, word_b, confusion_count, last_confused_at
		 FROM confusion_pairs WHERE user_id = ?
		 ORDER BY confusion_count DESC, id`,
		userID,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []ConfusionPair
	for rows.Next() {
		var c ConfusionPair
		if err := rows.Scan(&c.ID, &c.UserID, &c.WordA, &c.WordB, &c.ConfusionCount, &c.LastConfusedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Personal dictionary ---

func AddDictionaryEntry(db *sql.DB, userID, word, source string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return nil
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO personal_dictionary (user_id, word, source) VALUES (?, ?, ?)`,
		userID, word, source,
	)
	return translateDBErr(err)
}

func GetDictionary(db *sql.DB, userID string) ([]DictionaryEntry, error) {
	rows, err := db.Query(
		`SELECT id, user_id, word, source FROM personal_dictionary WHERE user_id = ? ORDER BY word`,
		userID,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []DictionaryEntry
	for rows.Next() {
		var d DictionaryEntry
		if err := rows.Scan(&d.ID, &d.UserID, &d.Word, &d.Source); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func InDictionary(db *sql.DB, userID, word string) (bool, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM personal_dictionary WHERE user_id = ? AND word = ?`,
		userID, strings.ToLower(strings.TrimSpace(word)),
	).Scan(&count)
	return count > 0, translateDBErr(err)
}

// --- User settings ---

func GetUserSettings(db *sql.DB, userID string) (UserSettings, error) {
	s := UserSettings{UserID: userID, CorrectionAggressiveness: 50, LanguageCode: "en"}
	err := db.QueryRow(
		`SELECT correction_aggressiveness, language_code FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&s.CorrectionAggressiveness, &s.LanguageCode)
	if err == sql.ErrNoRows {
		return s, nil
	}
	return s, translateDBErr(err)
}

func SaveUserSettings(db *sql.DB, s UserSettings) error {
	_, err := db.Exec(
		`INSERT INTO user_settings (user_id, correction_aggressiveness, language_code) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET correction_aggressiveness = excluded.correction_aggressiveness,
		                                    language_code = excluded.language_code`,
		s.UserID, s.CorrectionAggressiveness, s.LanguageCode,
	)
	return translateDBErr(err)
}

// --- Weekly snapshots ---

func InsertWeeklySnapshot(db *sql.DB, snap WeeklySnapshot) error {
	_, err := db.Exec(
		`INSERT INTO weekly_snapshots (user_id, week_start, total_errors, accuracy, top_types)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, week_start) DO UPDATE SET total_errors = excluded.total_errors,
		                                                accuracy = excluded.accuracy,
		                                                top_types = excluded.top_types`,
		snap.UserID, snap.WeekStart.Format("2006-01-02"), snap.TotalErrors, snap.Accuracy, snap.TopTypes,
	)
	return translateDBErr(err)
}

func GetWeeklySnapshots(db *sql.DB, userID string, limit int) ([]WeeklySnapshot, error) {
	rows, err := db.Query(
		`SELECT id, user_id, week_start, total_errors, accuracy, top_types, created_at
		 FROM weekly_snapshots WHERE user_id = ?
		 ORDER BY week_start DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var out []WeeklySnapshot
	for rows.Next() {
		var s WeeklySnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.WeekStart, &s.TotalErrors, &s.Accuracy, &s.TopTypes, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Documents (titles feed the recent-topics enrichment) ---

func TouchDocument(db *sql.DB, userID, title string) error {
	_, err := db.Exec(`INSERT INTO documents (user_id, title) VALUES (?, ?)`, userID, title)
	return translateDBErr(err)
}

func GetRecentDocumentTitles(db *sql.DB, userID string, limit int) ([]string, error) {
	rows, err := db.Query(
		`SELECT title FROM documents WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, translateDBErr(err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}
