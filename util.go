package bridge

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/prife/ftpbridge/wire"
)

var (
	whitespaceRegex = regexp.MustCompile(`^\s*$`)
)

func containsWhitespace(str string) bool {
	return strings.ContainsAny(str, " \t\v\r\n")
}

func isBlank(str string) bool {
	return whitespaceRegex.MatchString(str)
}

// checkUser validates a user id, which names a directory on the server and is
// sent as a single command argument.
func checkUser(user string) error {
	switch {
	case isBlank(user):
		return fmt.Errorf("%w: user id cannot be empty", wire.ErrAssertion)
	case containsWhitespace(user):
		return fmt.Errorf("%w: user id contains whitespace: %q", wire.ErrAssertion, user)
	case strings.Contains(user, ".."):
		return fmt.Errorf("%w: user id escapes its directory: %q", wire.ErrAssertion, user)
	}
	return nil
}

// checkName validates a file name. Spaces are allowed, line breaks and path
// separators are not.
func checkName(name string) error {
	switch {
	case isBlank(name):
		return fmt.Errorf("%w: file name cannot be empty", wire.ErrAssertion)
	case strings.ContainsAny(name, "\r\n"):
		return fmt.Errorf("%w: file name contains a line break: %q", wire.ErrAssertion, name)
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return fmt.Errorf("%w: file name is a path: %q", wire.ErrAssertion, name)
	}
	return nil
}

func wrapClientError(err error, user string, operation string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s for %s, err: %w", fmt.Sprintf(operation, args...), user, err)
}

// IsNotFound reports whether the server said the file or directory doesn't exist.
func IsNotFound(err error) bool {
	return errors.Is(err, wire.ErrNotFound)
}

// IsTransport reports whether err is a connection failure, as opposed to an
// answer the server gave.
func IsTransport(err error) bool {
	return wire.IsTransport(err)
}

// IsInvalidArgument reports whether err was caused by a bad user id, file name
// or call sequence rather than by the server.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, wire.ErrAssertion)
}
