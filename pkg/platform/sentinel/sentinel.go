package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores. Services
// translate them into coded domain errors.
//
//   - ErrNotFound: the record does not exist
//   - ErrAlreadyExists: a create found the key taken; retrying cannot help
//   - ErrConflict: a uniqueness constraint or a concurrent writer won; the
//     transaction may be retried from scratch
//   - ErrUnavailable: the backing store or broker cannot be reached
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
)
