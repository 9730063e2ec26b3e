package portal

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Credentials is the immutable institutional login loaded once at startup.
type Credentials struct {
	username string
	password string
}

// NewCredentials captures a login pair.
func NewCredentials(username, password string) Credentials {
	return Credentials{username: username, password: password}
}

// Username returns the login name.
func (c Credentials) Username() string { return c.username }

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool { return c.username == "" || c.password == "" }

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username: %q, password: %s}", c.username, redacted)
}

// GoString keeps %#v redacted as well.
func (c Credentials) GoString() string { return c.String() }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.username)
	enc.AddString("password", redacted)
	return nil
}
