package agent

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/ralphctl/ralph/internal/models"
)

// classRule maps failure text to a mistake type. Rules are checked in
// order; the first match wins.
type classRule struct {
	mistakeType models.MistakeType
	markers     []string
}

var classRules = []classRule{
	{models.MistakeTypeFileNotFound, []string{
		"no such file", "file not found", "cannot find the file", "does not exist",
	}},
	{models.MistakeTypeSyntaxError, []string{
		"syntax error", "parse error", "unexpected token", "expected ';'",
	}},
	{models.MistakeTypeTypeError, []string{
		"type error", "type mismatch", "cannot use", "incompatible type",
		"undefined:", "is not assignable",
	}},
	{models.MistakeTypePermissionError, []string{
		"permission denied", "operation not permitted", "access denied",
	}},
	{models.MistakeTypeTimeout, []string{
		"deadline exceeded", "timed out", "timeout",
	}},
	{models.MistakeTypeNetworkError, []string{
		"connection refused", "connection reset", "no route to host",
		"dns", "network is unreachable", "tls handshake",
	}},
	{models.MistakeTypeResourceError, []string{
		"no space left", "out of memory", "cannot allocate", "too many open files",
		"disk quota",
	}},
}

// Classify maps an attempt failure to the mistake taxonomy. Context
// cancellation is user-initiated and classifies as user_cancelled;
// deadline expiry as timeout; anything unrecognized falls back to the
// implementation catch-all.
func Classify(err error, output string) models.MistakeType {
	if errors.Is(err, context.Canceled) {
		return models.MistakeTypeUserCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.MistakeTypeTimeout
	}
	if errors.Is(err, os.ErrNotExist) {
		return models.MistakeTypeFileNotFound
	}
	if errors.Is(err, os.ErrPermission) {
		return models.MistakeTypePermissionError
	}

	haystack := strings.ToLower(output)
	if err != nil {
		haystack += "\n" + strings.ToLower(err.Error())
	}

	for _, rule := range classRules {
		for _, marker := range rule.markers {
			if strings.Contains(haystack, marker) {
				return rule.mistakeType
			}
		}
	}

	return models.MistakeTypeImplementation
}
