package notify

import (
	"context"
	"errors"
	"fmt"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/portal"
	"portal-notifier/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portal-notifier/internal/notify")

// ErrNotification means a transport did not accept a message, the score it was about stays
// un-notified.
var ErrNotification = errors.New("notify: dispatch failed")

const (
	report_notifier_notify_problems = "notifier.notify-problems"
	report_notifier_sent            = "notifier.sent"
)

// Store is the part of the store the notifier reads and writes.
type Store interface {
	Students(ctx context.Context) ([]store.Student, error)
	PendingProblems(ctx context.Context, studentId string) ([]store.AssignmentScore, error)
	MarkNotified(ctx context.Context, id string) (bool, error)
}

type Options struct {
	Store     Store
	Transport Transport
	// PortalUrl and Tenant are used to build the link in each message.
	PortalUrl string
	Tenant    string
	Telemetry telemetry.API
}

// Notifier sends one message per problem score and remembers that it did.
type Notifier struct {
	store     Store
	transport Transport
	portalUrl string
	tenant    string
	tel       telemetry.API
}

func NewNotifier(opts Options) Notifier {
	assert.NotNil(opts.Store)
	assert.NotNil(opts.Transport)
	assert.NotNil(opts.Telemetry)

	return Notifier{
		store:     opts.Store,
		transport: opts.Transport,
		portalUrl: opts.PortalUrl,
		tenant:    opts.Tenant,
		tel:       telemetry.NewScopedAPI("notify", opts.Telemetry),
	}
}

// ProblemMessage builds the message sent for a problem score of a student.
func ProblemMessage(portalUrl, tenant string, student store.Student, score store.AssignmentScore) Message {
	payload := portal.Payload(score.Payload)
	status := payload.CompletionStatus()
	description := payload.Description()

	var body string
	switch {
	case status != "" && description != "":
		body = fmt.Sprintf("%s: %s", status, description)
	case status != "":
		body = status
	case description != "":
		body = description
	default:
		body = "An assignment was flagged."
	}

	link, err := portal.DeepLink(portalUrl, tenant, score.StudentId, score.EnrollmentId)
	if err != nil {
		link = ""
	}

	return Message{
		Title:    fmt.Sprintf("%s: assignment needs attention", student.Name),
		Body:     body,
		Url:      link,
		UrlTitle: "Open assignments",
	}
}

// NotifyProblems dispatches a message for every stored problem score that hasn't been notified,
// students and scores are visited in store order, one message at a time.
//
// A score is only marked notified after its message was accepted, so a failure here can cause a
// message to be sent again on the next run but never causes one to be skipped. The first failed
// dispatch stops the loop.
func (n Notifier) NotifyProblems(ctx context.Context) (sent int, err error) {
	ctx, span := tracer.Start(ctx, "notifier:NotifyProblems")
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.Int("sent", sent))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "notify problems")
		}
	}()

	students, err := n.store.Students(ctx)
	if err != nil {
		n.tel.ReportBroken(report_notifier_notify_problems, fmt.Errorf("list students: %w", err))
		return sent, err
	}

	for _, student := range students {
		pending, err := n.store.PendingProblems(ctx, student.Id)
		if err != nil {
			n.tel.ReportBroken(report_notifier_notify_problems, fmt.Errorf("list pending problems: %w", err), student.Id)
			return sent, err
		}

		for _, score := range pending {
			msg := ProblemMessage(n.portalUrl, n.tenant, student, score)

			err := n.transport.Send(ctx, msg)
			if err != nil {
				n.tel.ReportBroken(report_notifier_notify_problems, fmt.Errorf("send: %w", err), score.Id)
				return sent, fmt.Errorf("%w: score %s: %w", ErrNotification, score.Id, err)
			}

			_, err = n.store.MarkNotified(ctx, score.Id)
			if err != nil {
				n.tel.ReportBroken(report_notifier_notify_problems, fmt.Errorf("mark notified: %w", err), score.Id)
				return sent, err
			}
			sent++
		}
	}

	n.tel.ReportCount(report_notifier_sent, int64(sent))
	return sent, nil
}
