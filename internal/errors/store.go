package errors

import (
	stderrors "errors"

	"github.com/pinnlo/service_layer/internal/app/storage"
)

// FromStore maps storage sentinel errors onto service errors. Errors that are
// already ServiceErrors, or that carry no sentinel, are returned unchanged.
func FromStore(err error, resource string) error {
	if err == nil || GetServiceError(err) != nil {
		return err
	}
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		se := NotFound(resource)
		se.Err = err
		return se
	case stderrors.Is(err, storage.ErrConflict):
		se := Conflict(resource + " already exists")
		se.Err = err
		return se
	}
	return err
}
