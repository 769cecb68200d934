// Package portaltest serves a fake parent portal over httptest for exercising the login walk and the
// record extraction end to end.
package portaltest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
)

const sessionCookie = "portal_session"

type Enrollment struct {
	Id       string
	CourseId string
	// Assignments is the raw body served by the assignments endpoint.
	Assignments string
}

type Student struct {
	Id          string
	Name        string
	Enrollments []Enrollment
}

// Portal is a fake portal. Its fields may be changed between runs, they are read under a lock.
type Portal struct {
	Server *httptest.Server

	Tenant   string
	Username string
	Password string

	mutex    sync.Mutex
	students []Student
	// statusOverrides maps a request path to the status it should fail with.
	statusOverrides map[string]int
	requests        []string
	logins          int
}

func New(tenant, username, password string, students ...Student) *Portal {
	p := &Portal{
		Tenant:          tenant,
		Username:        username,
		Password:        password,
		students:        students,
		statusOverrides: map[string]int{},
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	return p
}

func (p *Portal) Url() string {
	return p.Server.URL
}

func (p *Portal) Close() {
	p.Server.Close()
}

func (p *Portal) SetStudents(students ...Student) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.students = students
}

// FailPath makes every request to `path` answer with `status`.
func (p *Portal) FailPath(path string, status int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.statusOverrides[path] = status
}

// Requests returns "<METHOD> <path>" for every request served so far.
func (p *Portal) Requests() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.requests...)
}

// Logins is the amount of completed session confirmations.
func (p *Portal) Logins() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.logins
}

func AssignmentsPath(tenant, enrollmentId string) string {
	return fmt.Sprintf("/api/%s/classes/%s/assignments", tenant, enrollmentId)
}

var (
	overviewRegex    = regexp.MustCompile(`^/app/student/(\d+)/overview$`)
	assignmentsRegex = regexp.MustCompile(`^/api/([^/]+)/classes/(\d+)/assignments$`)
)

const loginPage = `<html><body>
<form id="login-form" action="/login/submit" method="post">
	<input type="hidden" name="csrf_token" value="csrf-123">
	<input type="text" name="username" value="">
	<input type="password" name="password">
	<input type="checkbox" name="remember" value="1">
	<button type="submit">Sign in</button>
</form>
</body></html>`

func confirmPage(ticket string) string {
	return fmt.Sprintf(`<html><body>
<form id="confirm-session" action="confirm" method="post">
	<input type="hidden" name="ticket" value="%s">
	<textarea name="note"></textarea>
</form>
</body></html>`, ticket)
}

func (p *Portal) serve(w http.ResponseWriter, r *http.Request) {
	p.mutex.Lock()
	p.requests = append(p.requests, r.Method+" "+r.URL.Path)
	status, failed := p.statusOverrides[r.URL.Path]
	p.mutex.Unlock()

	if failed {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch {
	case r.URL.Path == "/login" && r.Method == http.MethodGet:
		writeHtml(w, loginPage)
	case r.URL.Path == "/login/submit" && r.Method == http.MethodPost:
		p.submit(w, r)
	case r.URL.Path == "/login/confirm" && r.Method == http.MethodPost:
		p.confirm(w, r)
	case r.URL.Path == "/app/dashboard":
		if !p.authenticated(r) {
			writeHtml(w, loginPage)
			return
		}
		p.dashboard(w)
	default:
		if !p.authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if groups := overviewRegex.FindStringSubmatch(r.URL.Path); groups != nil {
			p.overview(w, groups[1])
			return
		}
		if groups := assignmentsRegex.FindStringSubmatch(r.URL.Path); groups != nil {
			p.assignments(w, groups[1], groups[2])
			return
		}
		http.NotFound(w, r)
	}
}

func (p *Portal) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookie)
	return err == nil && cookie.Value == "valid"
}

func (p *Portal) submit(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("csrf_token") != "csrf-123" {
		http.Error(w, "missing csrf token", http.StatusForbidden)
		return
	}
	ticket := "rejected"
	if r.PostForm.Get("username") == p.Username && r.PostForm.Get("password") == p.Password {
		ticket = "accepted"
	}
	writeHtml(w, confirmPage(ticket))
}

func (p *Portal) confirm(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("ticket") == "accepted" {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "valid", Path: "/"})
		p.mutex.Lock()
		p.logins++
		p.mutex.Unlock()
	}
	http.Redirect(w, r, "/app/dashboard", http.StatusFound)
}

func (p *Portal) dashboard(w http.ResponseWriter) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var body strings.Builder
	body.WriteString("<html><body><div class=\"children\">")
	for _, s := range p.students {
		fmt.Fprintf(&body, `<div class="child">
	<h2 class="child-name">%s</h2>
	<a class="child-link" href="/app/student/%s/overview">View</a>
</div>`, html.EscapeString(s.Name), s.Id)
	}
	body.WriteString("</div></body></html>")
	writeHtml(w, body.String())
}

func (p *Portal) findStudent(id string) (Student, bool) {
	for _, s := range p.students {
		if s.Id == id {
			return s, true
		}
	}
	return Student{}, false
}

func (p *Portal) overview(w http.ResponseWriter, studentId string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	student, ok := p.findStudent(studentId)
	if !ok {
		http.Error(w, "no such student", http.StatusNotFound)
		return
	}

	var body strings.Builder
	body.WriteString("<html><body><table>")
	for _, e := range student.Enrollments {
		fmt.Fprintf(&body, `<tr>
	<td><a class="course-description" href="/app/course/%s/description">Course</a></td>
	<td><a class="assignments-link" href="/app/classes/%s/assignments?student=%s">Assignments</a></td>
</tr>`, e.CourseId, e.Id, studentId)
	}
	body.WriteString(`<tr><td><a class="assignments-link" href="/app/help">Help</a></td></tr>`)
	body.WriteString("</table></body></html>")
	writeHtml(w, body.String())
}

func (p *Portal) assignments(w http.ResponseWriter, tenant, enrollmentId string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if tenant != p.Tenant {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	for _, s := range p.students {
		for _, e := range s.Enrollments {
			if e.Id == enrollmentId {
				w.Header().Set("content-type", "application/json")
				_, _ = w.Write([]byte(e.Assignments))
				return
			}
		}
	}
	http.Error(w, "no such enrollment", http.StatusNotFound)
}

func writeHtml(w http.ResponseWriter, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}
