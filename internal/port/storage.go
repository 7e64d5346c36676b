package port

import (
	"context"
)

// Object is the content behind a file reference.
type Object struct {
	Body        []byte
	ContentType string
	Size        int64
}

// ObjectStorage resolves file references handed to the core by the storage layer.
type ObjectStorage interface {
	// Fetch returns the object's bytes. A missing object yields domain.ErrFileNotFound
	// and a zero-length one domain.ErrEmptyFile.
	Fetch(ctx context.Context, ref string) (*Object, error)
}
