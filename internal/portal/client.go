// client.go contains the http session used to talk to the portal, it knows nothing about the
// portal's markup.

package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"portal-notifier/internal/components/assert"
	"portal-notifier/internal/components/telemetry"
	"portal-notifier/pkg/htmlutil"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Client is an http client bound to one portal origin. Every request made through the same Client
// shares one cookie jar, so it must not be used by more than one sync run at a time.
type Client struct {
	BaseUrl *url.URL
	Tenant  string
	Http    *resty.Client

	tel telemetry.API
}

type ClientOptions struct {
	BaseUrl string
	Tenant  string
	// RateLimit is the maximum amount of requests per second, zero means 2 per second.
	RateLimit rate.Limit
	// CloudflareBypass wraps the transport with cloudflare-bp-go.
	CloudflareBypass bool
	Timeout          time.Duration
	Telemetry        telemetry.API
}

func NewClient(opts ClientOptions) (*Client, error) {
	assert.NotNil(opts.Telemetry)
	assert.NotEmptyStr(opts.Tenant)

	tel := telemetry.NewScopedAPI("portal", opts.Telemetry)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if !baseUrl.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute: %s", opts.BaseUrl)
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(baseUrl.String(), "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	httpClient.SetHeader("user-agent", userAgent)
	// the login handshake hops across the sso host and back
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	httpClient.SetTimeout(timeout)

	limit := opts.RateLimit
	if limit == 0 {
		limit = 2
	}
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(limit, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		BaseUrl: baseUrl,
		Tenant:  opts.Tenant,
		Http:    httpClient,
		tel:     tel,
	}, nil
}

// RequestOptions are the optional parts of a request.
type RequestOptions struct {
	// Form is sent url-encoded as the request body.
	Form    url.Values
	Query   url.Values
	Headers map[string]string
}

// Response is a fully read http response.
type Response struct {
	// Url is the url the response was served from, after following redirects.
	Url    *url.URL
	Status int
	Body   []byte
}

func (r Response) Ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// Resolve turns `target` into an absolute url, relative targets are resolved against the base url.
func (c *Client) Resolve(target string) (*url.URL, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	return c.BaseUrl.ResolveReference(parsed), nil
}

// Request sends a request to `target`, an absolute url or a path relative to the base url.
// A non-2xx status is not an error at this level, use Response.Ok.
func (c *Client) Request(ctx context.Context, method, target string, opts RequestOptions) (Response, error) {
	link, err := c.Resolve(target)
	if err != nil {
		c.tel.ReportBroken(report_client_request, fmt.Errorf("resolve target: %w", err), target)
		return Response{}, err
	}

	req := c.Http.R().SetContext(ctx)
	if opts.Form != nil {
		req.SetFormDataFromValues(opts.Form)
	}
	if opts.Query != nil {
		req.SetQueryParamsFromValues(opts.Query)
	}
	if opts.Headers != nil {
		req.SetHeaders(opts.Headers)
	}

	res, err := req.Execute(method, link.String())
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, link.String(), err)
	}

	final := link
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}
	return Response{
		Url:    final,
		Status: res.StatusCode(),
		Body:   res.Body(),
	}, nil
}

func statusError(method string, res Response) error {
	return fmt.Errorf("%w: %s %s -> %d", ErrStatus, method, res.Url, res.Status)
}

// HTML sends a request and parses the body as markup, non-2xx responses fail with ErrStatus.
func (c *Client) HTML(ctx context.Context, method, target string, opts RequestOptions) (htmlutil.Document, Response, error) {
	res, err := c.Request(ctx, method, target, opts)
	if err != nil {
		return nil, res, err
	}
	if !res.Ok() {
		return nil, res, statusError(method, res)
	}
	doc, err := htmlutil.ParseDocument(bytes.NewReader(res.Body))
	if err != nil {
		return nil, res, fmt.Errorf("%w: parse html from %s: %s", ErrDecode, res.Url, err.Error())
	}
	return doc, res, nil
}

// JSON sends a request and decodes the body into `out`, non-2xx responses fail with ErrStatus and
// malformed bodies with ErrDecode.
func (c *Client) JSON(ctx context.Context, method, target string, opts RequestOptions, out any) (Response, error) {
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	if _, ok := opts.Headers["accept"]; !ok {
		opts.Headers["accept"] = "application/json"
	}

	res, err := c.Request(ctx, method, target, opts)
	if err != nil {
		return res, err
	}
	if !res.Ok() {
		return res, statusError(method, res)
	}
	err = json.Unmarshal(res.Body, out)
	if err != nil {
		return res, fmt.Errorf("%w: json from %s: %s", ErrDecode, res.Url, err.Error())
	}
	return res, nil
}

// Get is shorthand for an option-less GET returning markup.
func (c *Client) Get(ctx context.Context, target string) (htmlutil.Document, Response, error) {
	return c.HTML(ctx, http.MethodGet, target, RequestOptions{})
}
