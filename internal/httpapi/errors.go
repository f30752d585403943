package httpapi

import "errors"

// ErrBadRequest marks malformed path or query parameters.
var ErrBadRequest = errors.New("bad request")
