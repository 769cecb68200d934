// records.go turns the portal's dashboard, overview and assignment responses into records.

package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"portal-notifier/pkg/htmlutil"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	dashboardPath   = "/app/dashboard"
	overviewPath    = "/app/student/%s/overview"
	assignmentsPath = "/api/%s/classes/%s/assignments"
	deepLinkPath    = "/app/%s/student/%s/classes/%s/assignments"

	childNameSelector         = "h2.child-name"
	childLinkSelector         = "a.child-link"
	courseDescriptionSelector = "a.course-description"
	assignmentsLinkSelector   = "a.assignments-link"
)

var (
	studentIdRegex    = regexp.MustCompile(`/student/(\d+)/`)
	courseIdRegex     = regexp.MustCompile(`/course/(\d+)/`)
	enrollmentIdRegex = regexp.MustCompile(`/classes/(\d+)/assignments`)
)

type Student struct {
	Id   string
	Name string
}

type Overview struct {
	// CourseIds are discovered for completeness, nothing downstream depends on them.
	CourseIds     []string
	EnrollmentIds []string
}

type AssignmentScore struct {
	Id           string
	EnrollmentId string
	StudentId    string
	Payload      Payload
}

func firstGroup(regex *regexp.Regexp, href string) string {
	groups := regex.FindStringSubmatch(href)
	if len(groups) < 2 {
		return ""
	}
	return groups[1]
}

// StudentIdFromHref extracts <digits> from `.../student/<digits>/...`, empty when it doesn't match.
func StudentIdFromHref(href string) string {
	return firstGroup(studentIdRegex, href)
}

// CourseIdFromHref extracts <digits> from `.../course/<digits>/...`, empty when it doesn't match.
func CourseIdFromHref(href string) string {
	return firstGroup(courseIdRegex, href)
}

// EnrollmentIdFromHref extracts <digits> from `.../classes/<digits>/assignments...`, empty when it
// doesn't match.
func EnrollmentIdFromHref(href string) string {
	return firstGroup(enrollmentIdRegex, href)
}

// idsFromLinks extracts ids from the href of every element in `links`, skipping hrefs that don't
// match and ids that were already seen.
func idsFromLinks(links htmlutil.Selection, extract func(string) string) []string {
	ids := []string{}
	seen := map[string]bool{}
	links.Each(func(_ int, link htmlutil.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		id := extract(href)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	})
	return ids
}

// ParseStudents reads the children listed on the parent dashboard. Each child name heading's
// enclosing container is expected to hold a link to the child's pages, headings without one are
// returned in `skipped` by name.
func ParseStudents(doc htmlutil.Document) (students []Student, skipped []string) {
	students = []Student{}
	seen := map[string]bool{}

	doc.Query(childNameSelector).Each(func(_ int, heading htmlutil.Selection) {
		name := htmlutil.NormalizeText(heading.Text())

		link := heading.Parent().Find(childLinkSelector).First()
		href, ok := link.Attr("href")
		if !ok {
			skipped = append(skipped, name)
			return
		}
		id := StudentIdFromHref(href)
		if id == "" {
			skipped = append(skipped, name)
			return
		}
		if seen[id] {
			return
		}
		seen[id] = true

		students = append(students, Student{Id: id, Name: name})
	})

	return students, skipped
}

// ParseOverview reads the course and enrollment ids linked from a student's overview page.
func ParseOverview(doc htmlutil.Document) Overview {
	return Overview{
		CourseIds:     idsFromLinks(doc.Query(courseDescriptionSelector), CourseIdFromHref),
		EnrollmentIds: idsFromLinks(doc.Query(assignmentsLinkSelector), EnrollmentIdFromHref),
	}
}

type assignmentsResponse struct {
	Assignments *[]json.RawMessage `json:"assignments"`
}

// ParseAssignmentScores decodes the body of the assignments endpoint, every element of the top
// level `assignments` array becomes one score keyed by its own `score_id`.
func ParseAssignmentScores(body []byte, studentId, enrollmentId string) ([]AssignmentScore, error) {
	var res assignmentsResponse
	err := json.Unmarshal(body, &res)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err.Error())
	}
	return scoresFromResponse(res, studentId, enrollmentId)
}

func scoresFromResponse(res assignmentsResponse, studentId, enrollmentId string) ([]AssignmentScore, error) {
	if res.Assignments == nil {
		return nil, fmt.Errorf("%w: response has no assignments array", ErrDecode)
	}

	scores := make([]AssignmentScore, 0, len(*res.Assignments))
	for i, raw := range *res.Assignments {
		payload, err := parsePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
		scores = append(scores, AssignmentScore{
			Id:           payload.ScoreId(),
			EnrollmentId: enrollmentId,
			StudentId:    studentId,
			Payload:      payload,
		})
	}
	return scores, nil
}

// Students lists the children on the parent dashboard.
//
// A dashboard that still shows the login form means the portal did not accept the credentials, this
// fails with ErrAuthentication instead of quietly returning no students.
func (s *Session) Students(ctx context.Context) ([]Student, error) {
	ctx, span := tracer.Start(ctx, "session:Students")
	defer span.End()

	c := s.client
	doc, _, err := c.Get(ctx, dashboardPath)
	if err != nil {
		c.tel.ReportBroken(report_session_students, fmt.Errorf("fetch dashboard: %w", err))
		span.SetStatus(codes.Error, "fetch dashboard")
		return nil, err
	}
	if doc.Query(loginFormSelector).Len() > 0 {
		err := fmt.Errorf("%w: credentials rejected, dashboard shows the login form", ErrAuthentication)
		c.tel.ReportBroken(report_session_students, err)
		span.SetStatus(codes.Error, "credentials rejected")
		return nil, err
	}

	students, skipped := ParseStudents(doc)
	for _, name := range skipped {
		c.tel.ReportWarning(report_session_students, fmt.Errorf("no usable student link under heading"), name)
	}
	span.SetAttributes(attribute.Int("students", len(students)))
	return students, nil
}

// Overview lists the courses and enrollments of a student.
func (s *Session) Overview(ctx context.Context, studentId string) (Overview, error) {
	ctx, span := tracer.Start(ctx, "session:Overview")
	defer span.End()
	span.SetAttributes(attribute.String("student_id", studentId))

	c := s.client
	endpoint := fmt.Sprintf(overviewPath, studentId)
	doc, _, err := c.Get(ctx, endpoint)
	if err != nil {
		c.tel.ReportBroken(report_session_overview, fmt.Errorf("fetch: %w", err), endpoint)
		span.SetStatus(codes.Error, "fetch overview")
		return Overview{}, err
	}
	return ParseOverview(doc), nil
}

// AssignmentScores fetches every assignment score of one enrollment.
func (s *Session) AssignmentScores(ctx context.Context, studentId, enrollmentId string) ([]AssignmentScore, error) {
	ctx, span := tracer.Start(ctx, "session:AssignmentScores")
	defer span.End()
	span.SetAttributes(
		attribute.String("student_id", studentId),
		attribute.String("enrollment_id", enrollmentId),
	)

	c := s.client
	endpoint := fmt.Sprintf(assignmentsPath, c.Tenant, enrollmentId)

	var res assignmentsResponse
	_, err := c.JSON(ctx, http.MethodGet, endpoint, RequestOptions{}, &res)
	if err != nil {
		c.tel.ReportBroken(report_session_assignment_score, fmt.Errorf("fetch: %w", err), endpoint)
		span.SetStatus(codes.Error, "fetch assignments")
		return nil, err
	}
	scores, err := scoresFromResponse(res, studentId, enrollmentId)
	if err != nil {
		c.tel.ReportBroken(report_session_assignment_score, err, endpoint)
		span.SetStatus(codes.Error, "decode assignments")
		return nil, err
	}
	return scores, nil
}

// DeepLink is the portal page listing the assignments of a student's enrollment.
func DeepLink(baseUrl, tenant, studentId, enrollmentId string) (string, error) {
	base, err := url.Parse(baseUrl)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf(deepLinkPath, tenant, studentId, enrollmentId)
	return base.JoinPath(path).String(), nil
}
