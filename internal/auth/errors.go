package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrWeakSecret      = errors.New("token secret must be at least 16 bytes")
)
