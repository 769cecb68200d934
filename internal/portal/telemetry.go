package portal

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("portal-notifier/internal/portal")

const (
	report_client_request           = "client.request"
	report_client_login             = "client.login"
	report_session_students         = "session.students"
	report_session_overview         = "session.overview"
	report_session_assignment_score = "session.assignment-scores"
)
