package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var ErrNoRecord = errors.New("store: no such record")

const (
	report_store_open  = "store.open"
	report_store_query = "store.query"
)

type Student struct {
	Id   string
	Name string
}

type AssignmentScore struct {
	Id           string
	EnrollmentId string
	StudentId    string
	Payload      json.RawMessage
	Problem      bool
	Notified     bool
}

type Store struct {
	db  *sql.DB
	tel telemetry.API
}

var remoteSchemes = []string{"libsql://", "http://", "https://", "ws://", "wss://"}

func isRemote(connString string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(connString, scheme) {
			return true
		}
	}
	return false
}

func wrapOpen(err error) error {
	return fmt.Errorf("open store: %w", err)
}

// OpenDB opens the database named by `connString`, libsql urls (libsql://, http(s)://, ws(s)://)
// connect to a remote libsql server, anything else is a local sqlite file path or `:memory:`.
func OpenDB(ctx context.Context, connString string) (*sql.DB, error) {
	if connString == "" {
		return nil, wrapOpen(fmt.Errorf("empty connection string"))
	}

	if isRemote(connString) {
		db, err := sql.Open("libsql", connString)
		if err != nil {
			return nil, wrapOpen(err)
		}
		err = db.PingContext(ctx)
		if err != nil {
			db.Close()
			return nil, wrapOpen(err)
		}
		return db, nil
	}

	path := strings.TrimPrefix(connString, "file:")
	if path != ":memory:" {
		os.MkdirAll(filepath.Dir(path), 0777)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpen(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	// this also keeps `:memory:` databases alive, since every query shares the one connection.
	db.SetMaxOpenConns(1)
	_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, wrapOpen(err)
	}
	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys=ON")
	if err != nil {
		db.Close()
		return nil, wrapOpen(err)
	}

	return db, nil
}

// Open opens the database and applies the schema.
func Open(ctx context.Context, connString string, tel telemetry.API) (Store, error) {
	db, err := OpenDB(ctx, connString)
	if err != nil {
		tel.ReportBroken(report_store_open, err)
		return Store{}, err
	}
	s, err := New(ctx, db, tel)
	if err != nil {
		db.Close()
		return Store{}, err
	}
	return s, nil
}

// New wraps an already opened database and applies the schema.
func New(ctx context.Context, db *sql.DB, tel telemetry.API) (Store, error) {
	assert.NotNil(db)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("store", tel)

	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			tel.ReportBroken(report_store_open, fmt.Errorf("apply schema: %w", err))
			return Store{}, wrapOpen(err)
		}
	}
	return Store{db: db, tel: tel}, nil
}

func (s Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s Store) Close() error {
	return s.db.Close()
}

func (s Store) UpsertStudent(ctx context.Context, student Student) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into student(id, name) values (?, ?)
		on conflict(id) do update set name = excluded.name`,
		student.Id, student.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert student %s: %w", student.Id, err)
	}
	return nil
}

func (s Store) GetStudent(ctx context.Context, id string) (Student, error) {
	var out Student
	err := s.db.QueryRowContext(ctx, "select id, name from student where id = ?", id).
		Scan(&out.Id, &out.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, fmt.Errorf("%w: student %s", ErrNoRecord, id)
	}
	if err != nil {
		return Student{}, fmt.Errorf("get student %s: %w", id, err)
	}
	return out, nil
}

// Students lists every student in insertion order.
func (s Store) Students(ctx context.Context) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, "select id, name from student order by rowid")
	if err != nil {
		s.tel.ReportBroken(report_store_query, fmt.Errorf("students: %w", err))
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var student Student
		err := rows.Scan(&student.Id, &student.Name)
		if err != nil {
			return nil, fmt.Errorf("list students: %w", err)
		}
		out = append(out, student)
	}
	return out, rows.Err()
}

const upsertScoreQuery = `insert into assignment_score(id, enrollment_id, student_id, payload, problem)
values (?, ?, ?, ?, ?)
on conflict(id) do update set
	enrollment_id = excluded.enrollment_id,
	student_id = excluded.student_id,
	payload = excluded.payload,
	problem = excluded.problem`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertScore(ctx context.Context, db execer, score AssignmentScore) error {
	_, err := db.ExecContext(
		ctx,
		upsertScoreQuery,
		score.Id, score.EnrollmentId, score.StudentId, string(score.Payload), score.Problem,
	)
	if err != nil {
		return fmt.Errorf("upsert assignment score %s: %w", score.Id, err)
	}
	return nil
}

// UpsertScore inserts the score or replaces everything but its notified flag.
func (s Store) UpsertScore(ctx context.Context, score AssignmentScore) error {
	return upsertScore(ctx, s.db, score)
}

// UpsertScores is UpsertScore for a batch of scores, either all of them are written or none.
func (s Store) UpsertScores(ctx context.Context, scores []AssignmentScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, score := range scores {
		err := upsertScore(ctx, tx, score)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const scoreColumns = "id, enrollment_id, student_id, payload, problem, notified"

type scanner interface {
	Scan(dest ...any) error
}

func scanScore(row scanner) (AssignmentScore, error) {
	var out AssignmentScore
	var payload string
	err := row.Scan(&out.Id, &out.EnrollmentId, &out.StudentId, &payload, &out.Problem, &out.Notified)
	if err != nil {
		return AssignmentScore{}, err
	}
	out.Payload = json.RawMessage(payload)
	return out, nil
}

func (s Store) GetScore(ctx context.Context, id string) (AssignmentScore, error) {
	row := s.db.QueryRowContext(ctx, "select "+scoreColumns+" from assignment_score where id = ?", id)
	score, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AssignmentScore{}, fmt.Errorf("%w: assignment score %s", ErrNoRecord, id)
	}
	if err != nil {
		return AssignmentScore{}, fmt.Errorf("get assignment score %s: %w", id, err)
	}
	return score, nil
}

func (s Store) queryScores(ctx context.Context, query string, args ...any) ([]AssignmentScore, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.tel.ReportBroken(report_store_query, err)
		return nil, err
	}
	defer rows.Close()

	var out []AssignmentScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	return out, rows.Err()
}

// Scores lists every score of a student in insertion order.
func (s Store) Scores(ctx context.Context, studentId string) ([]AssignmentScore, error) {
	scores, err := s.queryScores(
		ctx,
		"select "+scoreColumns+" from assignment_score where student_id = ? order by rowid",
		studentId,
	)
	if err != nil {
		return nil, fmt.Errorf("list assignment scores of %s: %w", studentId, err)
	}
	return scores, nil
}

// PendingProblems lists the scores of a student that are flagged as a problem and have not been
// notified yet, in insertion order.
func (s Store) PendingProblems(ctx context.Context, studentId string) ([]AssignmentScore, error) {
	scores, err := s.queryScores(
		ctx,
		"select "+scoreColumns+" from assignment_score where student_id = ? and notified = 0 and problem = 1 order by rowid",
		studentId,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending problems of %s: %w", studentId, err)
	}
	return scores, nil
}

// MarkNotified sets the notified flag of a score, it reports whether this call is the one that
// flipped it. The flag is never reset.
func (s Store) MarkNotified(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		"update assignment_score set notified = 1 where id = ? and notified = 0",
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark %s notified: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark %s notified: %w", id, err)
	}
	if affected == 0 {
		_, err := s.GetScore(ctx, id)
		if err != nil {
			return false, err
		}
	}
	return affected > 0, nil
}
