// Package backend defines the transfer capability used to move whole save
// directories between a local root and a remote path on a cloud store.
// Implementations are interchangeable: the engine never assumes anything
// beyond this interface.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any listing or transfer failure (network, auth,
// missing tool). The sync engine treats it as retryable and never commits on
// top of it.
var ErrUnavailable = errors.New("transfer backend unavailable")

// RemoteFile describes one file in a remote listing. Hashes maps a
// normalized algorithm name ("md5", "sha1", "sha256") to a hex digest;
// providers that compute no checksums leave it empty.
type RemoteFile struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hashes  map[string]string
}

// Transfer is the external transfer backend boundary. Upload and Download
// mirror the whole directory: after a successful call the destination holds
// exactly the source's file set. Partial transfers surface as errors.
type Transfer interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// List returns the remote file set without downloading content. A
	// missing remote directory yields an empty listing, not an error.
	List(ctx context.Context, remotePath string) ([]RemoteFile, error)

	// Upload mirrors localRoot to remotePath.
	Upload(ctx context.Context, localRoot, remotePath string) error

	// Download mirrors remotePath to localRoot.
	Download(ctx context.Context, remotePath, localRoot string) error

	// Copy duplicates remotePath to another remote path server-side.
	// Used for pre-resolution remote backups.
	Copy(ctx context.Context, srcRemote, dstRemote string) error

	// Mkdir ensures the remote directory exists. A no-op on stores
	// without directories.
	Mkdir(ctx context.Context, remotePath string) error
}
