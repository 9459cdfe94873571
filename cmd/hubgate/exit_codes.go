package main

import (
	"errors"

	gwerrors "github.com/ananta888/hubgate/pkg/errors"
)

// Process exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
	exitConfig  = 3
	exitAuth    = 4
	exitHTTP    = 5
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError prefers an explicit exit code, then maps the gateway
// error taxonomy.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch gwerrors.GetCode(err) {
	case gwerrors.ErrCodeConfigLoad, gwerrors.ErrCodeConfigParse, gwerrors.ErrCodeConfigInvalid:
		return exitConfig
	case gwerrors.ErrCodeAuthRequired:
		return exitAuth
	case gwerrors.ErrCodeHTTP:
		if status := gwerrors.StatusCode(err); status == 401 || status == 403 {
			return exitAuth
		}
		return exitHTTP
	case gwerrors.ErrCodeInvalidInput:
		return exitUsage
	}
	return exitFailure
}
