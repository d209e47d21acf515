package canonical

import "fmt"

// CanonicalizationError reports a value that has no canonical encoding.
// It is never recovered internally: the caller must fix the input.
type CanonicalizationError struct {
	Path   string
	Reason string
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalize %s: %s", e.Path, e.Reason)
}

func unsupported(path, format string, args ...any) error {
	return &CanonicalizationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
