package search

import "errors"

// ErrInvalidPattern is returned for a malformed regular expression or glob.
var ErrInvalidPattern = errors.New("invalid pattern")
