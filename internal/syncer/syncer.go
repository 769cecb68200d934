package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/portal"
	"portal-notifier/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portal-notifier/internal/syncer")

const (
	report_syncer_login         = "syncer.login"
	report_syncer_students      = "syncer.students"
	report_syncer_sync_student  = "syncer.sync-student"
	report_syncer_student_count = "syncer.student-count"
	report_syncer_score_count   = "syncer.score-count"
	report_db_query             = "db.query"
)

// Store is the part of the store the syncer writes to.
type Store interface {
	UpsertStudent(ctx context.Context, student store.Student) error
	UpsertScores(ctx context.Context, scores []store.AssignmentScore) error
}

type Options struct {
	Store       Store
	Portal      *portal.Client
	Credentials portal.Credentials
	Telemetry   telemetry.API
}

// Syncer copies the students and assignment scores visible to a parent account into the store.
type Syncer struct {
	store       Store
	portal      *portal.Client
	credentials portal.Credentials
	tel         telemetry.API
}

// Result counts what a single run wrote.
type Result struct {
	Students    int
	Enrollments int
	Scores      int
}

func NewSyncer(opts Options) Syncer {
	assert.NotNil(opts.Store)
	assert.NotNil(opts.Portal)
	assert.NotNil(opts.Telemetry)

	return Syncer{
		store:       opts.Store,
		portal:      opts.Portal,
		credentials: opts.Credentials,
		tel:         telemetry.NewScopedAPI("syncer", opts.Telemetry),
	}
}

func toStoredScore(score portal.AssignmentScore) store.AssignmentScore {
	return store.AssignmentScore{
		Id:           score.Id,
		EnrollmentId: score.EnrollmentId,
		StudentId:    score.StudentId,
		Payload:      json.RawMessage(score.Payload),
		Problem:      score.Payload.IsProblem(),
	}
}

// SyncAll logs in once and walks every student, then every enrollment of that student, upserting
// what it finds along the way. Everything happens in sequence on the one session, the first error
// aborts the run and is returned as is.
//
// Rows already in the store are overwritten but never removed, and the notified flag of a score is
// left untouched.
func (s Syncer) SyncAll(ctx context.Context) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "syncer:SyncAll")
	defer span.End()
	defer func() {
		span.SetAttributes(
			attribute.Int("students", result.Students),
			attribute.Int("enrollments", result.Enrollments),
			attribute.Int("scores", result.Scores),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync all")
		}
	}()

	session, err := s.portal.Login(ctx, s.credentials)
	if err != nil {
		s.tel.ReportBroken(report_syncer_login, err, s.credentials.Username)
		return result, err
	}

	students, err := session.Students(ctx)
	if err != nil {
		s.tel.ReportBroken(report_syncer_students, err)
		return result, err
	}
	s.tel.ReportCount(report_syncer_student_count, int64(len(students)))

	for _, student := range students {
		err := s.store.UpsertStudent(ctx, store.Student{
			Id:   student.Id,
			Name: student.Name,
		})
		if err != nil {
			s.tel.ReportBroken(report_db_query, fmt.Errorf("UpsertStudent: %w", err), student.Id)
			return result, err
		}
		result.Students++
	}

	for _, student := range students {
		err := s.syncStudent(ctx, session, student, &result)
		if err != nil {
			s.tel.ReportBroken(report_syncer_sync_student, err, student.Id)
			return result, err
		}
	}

	s.tel.ReportCount(report_syncer_score_count, int64(result.Scores))
	return result, nil
}

func (s Syncer) syncStudent(ctx context.Context, session *portal.Session, student portal.Student, result *Result) error {
	ctx, span := tracer.Start(ctx, "syncer:syncStudent")
	defer span.End()
	span.SetAttributes(attribute.String("student_id", student.Id))

	overview, err := session.Overview(ctx, student.Id)
	if err != nil {
		return fmt.Errorf("overview: %w", err)
	}

	for _, enrollmentId := range overview.EnrollmentIds {
		scores, err := session.AssignmentScores(ctx, student.Id, enrollmentId)
		if err != nil {
			return fmt.Errorf("enrollment %s: %w", enrollmentId, err)
		}

		stored := make([]store.AssignmentScore, len(scores))
		for i, score := range scores {
			stored[i] = toStoredScore(score)
		}
		err = s.store.UpsertScores(ctx, stored)
		if err != nil {
			s.tel.ReportBroken(report_db_query, fmt.Errorf("UpsertScores: %w", err), enrollmentId)
			return err
		}

		result.Enrollments++
		result.Scores += len(scores)
	}

	s.tel.ReportDebug("synced student", student.Id, len(overview.EnrollmentIds))
	return nil
}
