package cliagent

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var errUnclosedQuote = errors.New("unclosed quote in command")

// normalizeCommand folds compatibility characters (fullwidth letters and
// similar lookalikes) to NFKC before any matching.
func normalizeCommand(cmd string) string {
	return norm.NFKC.String(cmd)
}

// splitArgs splits a command line into arguments, honoring single quotes,
// double quotes and backslash escapes. No other shell syntax is interpreted.
func splitArgs(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inArg   bool
		single  bool
		double  bool
		escaped bool
	)

	for _, r := range command {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch r {
		case '\\':
			if single {
				current.WriteRune(r)
			} else {
				escaped = true
				inArg = true
			}
		case '\'':
			if double {
				current.WriteRune(r)
			} else {
				single = !single
				inArg = true
			}
		case '"':
			if single {
				current.WriteRune(r)
			} else {
				double = !double
				inArg = true
			}
		case ' ', '\t', '\n', '\r':
			if single || double {
				current.WriteRune(r)
			} else if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}

	if single || double || escaped {
		return nil, errUnclosedQuote
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
