package middleware

import "errors"

var (
	errMissingToken  = errors.New("missing Authorization header")
	errBadAuthHeader = errors.New("malformed Authorization header")
)
