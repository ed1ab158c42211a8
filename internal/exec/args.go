// Package exec vets the values this core hands to process invocations
// and filesystem paths: task ids that become worktree directories and
// artifact filenames, and the arguments of the git commands isolated
// mode runs.
package exec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Argument validation errors, ordered from most to least severe.
var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0a-\x1f\x7f]`)
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
)

// validateArgument is the single rule set behind every entry point:
// non-empty, no null bytes, no control characters, no shell
// metacharacters. Leading dashes and quotes stay legal; task ids and
// git arguments legitimately carry them.
func validateArgument(arg string) error {
	switch {
	case arg == "":
		return ErrEmptyArgument
	case strings.Contains(arg, "\x00"):
		return ErrArgumentNullByte
	case controlChars.MatchString(arg):
		return ErrArgumentControlChar
	case shellMetachars.MatchString(arg):
		return ErrArgumentShellMetachar
	default:
		return nil
	}
}

// IsSafeArgument reports whether a value may be used as a process
// argument or path component.
func IsSafeArgument(arg string) bool {
	return validateArgument(arg) == nil
}

// SanitizeArgument validates a single argument and returns it if safe.
func SanitizeArgument(arg string) (string, error) {
	if err := validateArgument(arg); err != nil {
		return "", err
	}
	return arg, nil
}

// SanitizeArguments validates a slice of arguments, failing on the
// first unsafe entry with its position attached.
func SanitizeArguments(args []string) ([]string, error) {
	if args == nil {
		return nil, nil
	}

	result := make([]string, 0, len(args))
	for i, arg := range args {
		if err := validateArgument(arg); err != nil {
			return nil, &ArgumentError{Index: i, Arg: arg, Err: err}
		}
		result = append(result, arg)
	}
	return result, nil
}

// ArgumentError reports which argument failed validation and why.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
