package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_http_request  = "http.request"
	report_http_response = "http.response"
	report_http_exchange = "http.exchange"
)

const redacted = "<redacted>"

// secretFields are header and form field names (lowercase) whose values never reach the logs.
var secretFields = map[string]bool{
	"password":      true,
	"token":         true,
	"user":          true,
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

func isSecret(name string) bool {
	return secretFields[strings.ToLower(name)]
}

type requestTag struct {
	id    uint64
	start time.Time
}

type requestTagKey struct{}

func tagOf(req *resty.Request) (requestTag, bool) {
	if req == nil {
		return requestTag{}, false
	}
	tag, ok := req.Context().Value(requestTagKey{}).(requestTag)
	return tag, ok
}

type restyHooks struct {
	tel  API
	next *atomic.Uint64
}

// InstrumentResty numbers every request made with `client` and reports its method, status and
// duration. When debug logging is enabled the whole exchange is reported as well, with credentials
// and cookies redacted.
func InstrumentResty(client *resty.Client, tel API) {
	h := restyHooks{tel: tel, next: &atomic.Uint64{}}
	client.OnBeforeRequest(h.before)
	client.OnAfterResponse(h.after)
	client.OnError(h.failed)
}

func (h restyHooks) before(_ *resty.Client, req *resty.Request) error {
	tag := requestTag{id: h.next.Add(1), start: time.Now()}
	req.SetContext(context.WithValue(req.Context(), requestTagKey{}, tag))
	h.tel.ReportDebug(report_http_request, tag.id, req.Method, req.URL)
	return nil
}

func (h restyHooks) after(_ *resty.Client, res *resty.Response) error {
	tag, ok := tagOf(res.Request)
	if !ok {
		return nil
	}
	h.tel.ReportDebug(report_http_response, tag.id, res.Status(), time.Since(tag.start).String())
	if DebugEnabled() {
		h.tel.ReportDebug(report_http_exchange, tag.id, formatExchange(res))
	}
	return nil
}

func (h restyHooks) failed(req *resty.Request, err error) {
	var elapsed time.Duration
	if tag, ok := tagOf(req); ok {
		elapsed = time.Since(tag.start)
	}
	method, target := "", ""
	if req != nil {
		method, target = req.Method, req.URL
	}
	h.tel.ReportBroken(report_http_response, err, method, target, elapsed.String())
}

func writeHeaders(out *strings.Builder, headers http.Header) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if isSecret(name) {
				value = redacted
			}
			fmt.Fprintf(out, "%s: %s\n", name, value)
		}
	}
}

// redactForm hides secret fields of an urlencoded body, anything that doesn't parse is left as is.
func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil || len(values) == 0 {
		return body
	}
	touched := false
	for name := range values {
		if isSecret(name) {
			values[name] = []string{redacted}
			touched = true
		}
	}
	if !touched {
		return body
	}
	return values.Encode()
}

func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil || body == nil {
		return ""
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %s>", err.Error())
	}
	if strings.HasPrefix(req.Header.Get("content-type"), "application/x-www-form-urlencoded") {
		return redactForm(string(raw))
	}
	return string(raw)
}

func formatExchange(res *resty.Response) string {
	var out strings.Builder

	fmt.Fprintf(&out, "> %s %s\n", res.Request.Method, res.Request.URL)
	if raw := res.Request.RawRequest; raw != nil {
		writeHeaders(&out, raw.Header)
		if body := requestBody(raw); body != "" {
			fmt.Fprintf(&out, "\n%s\n", body)
		}
	}

	finalUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	fmt.Fprintf(&out, "\n< %d %s\n", res.StatusCode(), finalUrl)
	writeHeaders(&out, res.Header())
	if body := res.String(); body != "" {
		fmt.Fprintf(&out, "\n%s", body)
	}

	return out.String()
}
