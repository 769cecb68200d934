package notify

import (
	"context"
	"encoding/json"
	"errors"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/internal/store"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mutex sync.Mutex
	sent  []Message
	// failAfter makes every send after the first n fail, a negative value never fails.
	failAfter int
}

func (r *recordingTransport) Send(_ context.Context, msg Message) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.failAfter >= 0 && len(r.sent) >= r.failAfter {
		return errors.New("transport unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) messages() []Message {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Message(nil), r.sent...)
}

func seedStore(t testing.TB) store.Store {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:", &telemetry.MemoryAPI{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	for _, student := range []store.Student{
		{Id: "4821", Name: "Alice Smith"},
		{Id: "4822", Name: "Bob Smith"},
	} {
		err := s.UpsertStudent(ctx, student)
		if err != nil {
			t.Fatal(err)
		}
	}

	scores := []store.AssignmentScore{
		{
			Id: "s1", EnrollmentId: "991", StudentId: "4821", Problem: true,
			Payload: json.RawMessage(`{"score_id":"s1","is_problem":1,"completion_status":"Late","assignment_description":"HW1"}`),
		},
		{
			Id: "s2", EnrollmentId: "991", StudentId: "4821",
			Payload: json.RawMessage(`{"score_id":"s2","is_problem":0}`),
		},
		{
			Id: "s3", EnrollmentId: "995", StudentId: "4822", Problem: true,
			Payload: json.RawMessage(`{"score_id":"s3","is_problem":true,"completion_status":"Missing","assignment_description":"Lab report"}`),
		},
	}
	err = s.UpsertScores(ctx, scores)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestNotifier(s Store, transport Transport) Notifier {
	return NewNotifier(Options{
		Store:     s,
		Transport: transport,
		PortalUrl: "https://portal.test",
		Tenant:    "acme",
		Telemetry: &telemetry.MemoryAPI{},
	})
}

func TestNotifyProblems(t *testing.T) {
	s := seedStore(t)
	transport := &recordingTransport{failAfter: -1}
	notifier := newTestNotifier(s, transport)
	ctx := context.Background()

	sent, err := notifier.NotifyProblems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 2, sent)

	messages := transport.messages()
	require.Len(t, messages, 2)

	require.Equal(t, "Alice Smith: assignment needs attention", messages[0].Title)
	require.Contains(t, messages[0].Body, "Late")
	require.Contains(t, messages[0].Body, "HW1")
	require.Equal(t, "https://portal.test/app/acme/student/4821/classes/991/assignments", messages[0].Url)

	require.Equal(t, "Bob Smith: assignment needs attention", messages[1].Title)
	require.Equal(t, "Missing: Lab report", messages[1].Body)

	for _, id := range []string{"s1", "s3"} {
		score, err := s.GetScore(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		require.True(t, score.Notified, id)
	}
	score, err := s.GetScore(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, score.Notified)

	// nothing is sent twice
	sent, err = notifier.NotifyProblems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, sent)
	require.Len(t, transport.messages(), 2)
}

func TestNotifyProblemsDispatchFailure(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	failing := &recordingTransport{failAfter: 1}
	sent, err := newTestNotifier(s, failing).NotifyProblems(ctx)
	require.ErrorIs(t, err, ErrNotification)
	require.Equal(t, 1, sent)

	first, err := s.GetScore(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, first.Notified)

	second, err := s.GetScore(ctx, "s3")
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, second.Notified)

	// the next run picks up where the failed one stopped
	healthy := &recordingTransport{failAfter: -1}
	sent, err = newTestNotifier(s, healthy).NotifyProblems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, sent)
	require.Len(t, healthy.messages(), 1)
	require.Equal(t, "Missing: Lab report", healthy.messages()[0].Body)
}

func TestNotifyProblemsNothingSentOnImmediateFailure(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	_, err := newTestNotifier(s, &recordingTransport{failAfter: 0}).NotifyProblems(ctx)
	require.ErrorIs(t, err, ErrNotification)

	pending, err := s.PendingProblems(ctx, "4821")
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, pending, 1)
}

type failingStudentsStore struct {
	store.Store
}

func (failingStudentsStore) Students(context.Context) ([]store.Student, error) {
	return nil, errors.New("store unavailable")
}

func TestNotifyProblemsStoreFailure(t *testing.T) {
	s := seedStore(t)
	transport := &recordingTransport{failAfter: -1}

	_, err := newTestNotifier(failingStudentsStore{Store: s}, transport).NotifyProblems(context.Background())
	require.ErrorContains(t, err, "store unavailable")
	require.Len(t, transport.messages(), 0)
}

func TestProblemMessage(t *testing.T) {
	student := store.Student{Id: "1", Name: "Alice"}

	testCases := []struct {
		payload string
		body    string
	}{
		{payload: `{"completion_status":"Late","assignment_description":"HW1"}`, body: "Late: HW1"},
		{payload: `{"completion_status":"Late"}`, body: "Late"},
		{payload: `{"assignment_description":"HW1"}`, body: "HW1"},
		{payload: `{}`, body: "An assignment was flagged."},
	}

	for _, test := range testCases {
		msg := ProblemMessage("https://portal.test", "acme", student, store.AssignmentScore{
			Id: "x", StudentId: "1", EnrollmentId: "2", Payload: json.RawMessage(test.payload),
		})
		require.Equal(t, test.body, msg.Body)
		require.Equal(t, "Alice: assignment needs attention", msg.Title)
		require.Equal(t, "https://portal.test/app/acme/student/1/classes/2/assignments", msg.Url)
	}
}

func TestFanout(t *testing.T) {
	ok := &recordingTransport{failAfter: -1}
	broken := &recordingTransport{failAfter: 0}
	after := &recordingTransport{failAfter: -1}

	err := Fanout{ok, broken, after}.Send(context.Background(), Message{Body: "hello"})
	require.ErrorContains(t, err, "transport unavailable")
	require.Len(t, ok.messages(), 1)
	require.Len(t, after.messages(), 1)

	err = Fanout{ok}.Send(context.Background(), Message{Body: "hello"})
	require.NoError(t, err)
}
