package importer

import (
	"errors"
	"fmt"
)

// Code classifies a failed import. It is stored on the job record.
type Code string

const (
	CodeArchiveUnreadable   Code = "archive-unreadable"
	CodeRootNotFound        Code = "root-not-found"
	CodeUnrecognizedVersion Code = "unrecognized-version"
	CodeInvalidManifest     Code = "invalid-manifest"
	CodeMissingEntry        Code = "missing-entry"
	CodeTransaction         Code = "transaction"
)

// Failure is a failed reconstruction.
type Failure struct {
	Code Code
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("importer: %s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(code Code, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

// CodeOf returns the failure code of err, or "" when err is not a Failure.
func CodeOf(err error) Code {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// ErrNotClaimed is returned by Run when the job is not pending, typically
// because another worker already picked it up.
var ErrNotClaimed = errors.New("importer: job not claimed")
