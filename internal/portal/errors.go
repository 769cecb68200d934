package portal

import "errors"

var (
	// ErrAuthentication means the login walk could not be completed or the portal did not accept
	// the credentials.
	ErrAuthentication = errors.New("portal: authentication failed")
	// ErrNotFound means expected markup (a form, a selector) was absent from a page.
	ErrNotFound = errors.New("portal: expected markup not found")
	// ErrDecode means a response body could not be decoded into the expected shape.
	ErrDecode = errors.New("portal: decode response")
	// ErrStatus means the portal answered with a non-2xx status.
	ErrStatus = errors.New("portal: unexpected response status")
)
