package resolve

import (
	"errors"

	"github.com/coursekit/content-port/internal/model"
)

// Failure couples a row error code with its underlying cause so the
// importer can classify resolution errors without string matching.
type Failure struct {
	Code model.ErrorCode
	Err  error
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(code model.ErrorCode, err error) error {
	return &Failure{Code: code, Err: err}
}

// CodeOf extracts the error code from a resolver error, defaulting to a
// reference error for anything unclassified.
func CodeOf(err error) model.ErrorCode {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return model.ErrCodeReference
}
