// Package telemetry is the reporting surface every component logs through, so tests can assert on
// what was reported instead of scraping log output.
package telemetry

// API receives reports from components.
//
// Report ids name the component that is affected, not the step that failed: a dashboard fetch
// that times out while listing students is `session.students`, the timeout itself goes into the
// params. Ids are lowercase, words within a component are joined with dashes and components are
// separated by dots.
//
// note: fault injection point
type API interface {
	// ReportBroken is for failures someone has to look at.
	ReportBroken(id string, params ...any)
	// ReportWarning is for unusual but tolerated situations, such as a skipped trigger.
	ReportWarning(id string, params ...any)
	// ReportDebug is dropped unless debug logging is on.
	ReportDebug(msg string, params ...any)
	// ReportCount records a point in time measurement, consecutive counts are not meant to be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace before handing it to the wrapped API.
type ScopedAPI struct {
	prefix string
	inner  API
}

// NewScopedAPI wraps `inner` under `namespace`, wrapping another ScopedAPI nests the namespaces.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{prefix: namespace + ": ", inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.prefix+id, params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.prefix+id, params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.prefix+msg, params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.prefix+id, count)
}
