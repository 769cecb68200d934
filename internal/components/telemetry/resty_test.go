package telemetry

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestRedactForm(t *testing.T) {
	require.Equal(t, "password=%3Credacted%3E&username=parent", redactForm("username=parent&password=hunter2"))
	require.Equal(t, "ticket=abc", redactForm("ticket=abc"))
	require.Equal(t, "", redactForm(""))
}

func TestWriteHeaders(t *testing.T) {
	var out strings.Builder
	writeHeaders(&out, http.Header{
		"User-Agent": {"test"},
		"Cookie":     {"portal_session=valid"},
		"Accept":     {"text/html", "application/json"},
	})
	require.Equal(t, "Accept: text/html\nAccept: application/json\nCookie: <redacted>\nUser-Agent: test\n", out.String())
}

func TestInstrumentResty(t *testing.T) {
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(previous)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	mem := &MemoryAPI{}
	client := resty.New()
	InstrumentResty(client, mem)

	_, err := client.R().
		SetFormData(map[string]string{"username": "parent", "password": "hunter2"}).
		Post(server.URL + "/login")
	if err != nil {
		t.Fatal(err)
	}

	debug := mem.Reports("debug")
	require.Len(t, debug, 3)
	require.Equal(t, report_http_request, debug[0].Id)
	require.Equal(t, uint64(1), debug[0].Params[0])
	require.Equal(t, report_http_response, debug[1].Id)
	require.Equal(t, report_http_exchange, debug[2].Id)

	exchange := debug[2].Params[1].(string)
	require.Contains(t, exchange, "> POST "+server.URL+"/login")
	require.NotContains(t, exchange, "hunter2")
	require.Contains(t, exchange, "< 200 ")

	server.Close()
	_, err = client.R().Get(server.URL)
	require.Error(t, err)
	require.Len(t, mem.Reports("broken"), 1)
}
