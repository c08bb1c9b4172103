package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed assets/words.json
var seedWords []byte

// Player is the persisted score record, created lazily on first
// authenticated visit.
type Player struct {
	ID     int64
	Name   string
	Points int
}

// Word is one playable unit from the corpus: the answer plus five hints,
// of which the first three are revealed on the countdown schedule.
type Word struct {
	Word  string
	Hints [5]string
}

// TopicRecord is the persisted form of a queued trivia topic.
type TopicRecord struct {
	Seq      int64
	ID       string
	Subject  string
	Points   int
	Status   string
	Question string
	Options  []string
	Answer   string
	System   bool
	FailedAt int64
}

var ErrNoWords = errors.New("no words available")

type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency under parallel guess handling.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, err
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			points INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS words (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			word TEXT NOT NULL,
			hint1 TEXT NOT NULL,
			hint2 TEXT NOT NULL,
			hint3 TEXT NOT NULL,
			hint4 TEXT NOT NULL,
			hint5 TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS topics (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			subject TEXT NOT NULL,
			points INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			options TEXT NOT NULL DEFAULT '[]',
			answer TEXT NOT NULL DEFAULT '',
			system INTEGER NOT NULL DEFAULT 0,
			failed_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_topics_status ON topics(status);`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.seedWordsIfEmpty(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// seedWordsIfEmpty bulk-imports the embedded corpus on first run.
func (s *Store) seedWordsIfEmpty() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM words").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var corpus []struct {
		Word  string   `json:"word"`
		Hints []string `json:"hints"`
	}
	if err := json.Unmarshal(seedWords, &corpus); err != nil {
		return fmt.Errorf("parse embedded corpus: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO words (word, hint1, hint2, hint3, hint4, hint5) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range corpus {
		if len(entry.Hints) != 5 {
			return fmt.Errorf("corpus entry %q needs 5 hints, has %d", entry.Word, len(entry.Hints))
		}
		if _, err := stmt.Exec(entry.Word, entry.Hints[0], entry.Hints[1], entry.Hints[2], entry.Hints[3], entry.Hints[4]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetPlayer looks up a player by name. The second return value reports
// whether the player exists.
func (s *Store) GetPlayer(name string) (Player, bool, error) {
	var p Player
	err := s.db.QueryRow("SELECT id, name, points FROM players WHERE name = ?", name).Scan(&p.ID, &p.Name, &p.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, false, nil
	}
	if err != nil {
		return Player{}, false, err
	}
	return p, true, nil
}

// EnsurePlayer returns the player record for name, creating it with the
// given starting points if it does not exist yet.
func (s *Store) EnsurePlayer(name string, startingPoints int) (Player, error) {
	p, ok, err := s.GetPlayer(name)
	if err != nil {
		return Player{}, err
	}
	if ok {
		return p, nil
	}

	res, err := s.db.Exec("INSERT INTO players (name, points) VALUES (?, ?)", name, startingPoints)
	if err != nil {
		return Player{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Player{}, err
	}
	return Player{ID: id, Name: name, Points: startingPoints}, nil
}

// AddPoints adjusts a player's score and returns the new total.
func (s *Store) AddPoints(name string, delta int) (int, error) {
	var points int
	err := s.db.QueryRow("UPDATE players SET points = points + ? WHERE name = ? RETURNING points", delta, name).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no such player: %s", name)
	}
	if err != nil {
		return 0, err
	}
	return points, nil
}

// TopPlayers returns up to n players ordered by points descending.
func (s *Store) TopPlayers(n int) ([]Player, error) {
	rows, err := s.db.Query("SELECT id, name, points FROM players ORDER BY points DESC, name ASC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Points); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// SampleWord returns one random word longer than minLength.
func (s *Store) SampleWord(minLength int) (Word, error) {
	var w Word
	err := s.db.QueryRow(
		"SELECT word, hint1, hint2, hint3, hint4, hint5 FROM words WHERE LENGTH(word) > ? ORDER BY RANDOM() LIMIT 1",
		minLength,
	).Scan(&w.Word, &w.Hints[0], &w.Hints[1], &w.Hints[2], &w.Hints[3], &w.Hints[4])
	if errors.Is(err, sql.ErrNoRows) {
		return Word{}, ErrNoWords
	}
	if err != nil {
		return Word{}, err
	}
	return w, nil
}

func (s *Store) InsertTopic(t TopicRecord) (int64, error) {
	options, err := json.Marshal(t.Options)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		"INSERT INTO topics (id, subject, points, status, question, options, answer, system, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.Subject, t.Points, t.Status, t.Question, string(options), t.Answer, boolToInt(t.System), t.FailedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) UpdateTopicStatus(id, status string, failedAt time.Time) error {
	var failed int64
	if !failedAt.IsZero() {
		failed = failedAt.Unix()
	}
	_, err := s.db.Exec("UPDATE topics SET status = ?, failed_at = ? WHERE id = ?", status, failed, id)
	return err
}

func (s *Store) UpdateTopicQuestion(id, status, question string, options []string, answer string) error {
	encoded, err := json.Marshal(options)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"UPDATE topics SET status = ?, question = ?, options = ?, answer = ? WHERE id = ?",
		status, question, string(encoded), answer, id,
	)
	return err
}

func (s *Store) DeleteTopic(id string) error {
	_, err := s.db.Exec("DELETE FROM topics WHERE id = ?", id)
	return err
}

// ListTopics returns all persisted topics in arrival order.
func (s *Store) ListTopics() ([]TopicRecord, error) {
	rows, err := s.db.Query("SELECT seq, id, subject, points, status, question, options, answer, system, failed_at FROM topics ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []TopicRecord
	for rows.Next() {
		var t TopicRecord
		var options string
		var system int
		if err := rows.Scan(&t.Seq, &t.ID, &t.Subject, &t.Points, &t.Status, &t.Question, &options, &t.Answer, &system, &t.FailedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &t.Options); err != nil {
			return nil, err
		}
		t.System = system != 0
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
