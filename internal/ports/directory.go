package ports

import (
	"context"

	domainemoji "emojivote/internal/domain/emoji"
)

// DirectoryGateway is the external emoji directory of the workspace.
// AddEntry returns an error matching domainemoji.ErrEntryExists when the name
// is taken. RemoveEntry returns an error matching domainemoji.ErrEntryNotFound
// when the name is absent.
type DirectoryGateway interface {
	AddEntry(ctx context.Context, name string, image domainemoji.Image) error
	AddAlias(ctx context.Context, name string, canonical string) error
	RemoveEntry(ctx context.Context, name string) error
	ListEntries(ctx context.Context) (map[string]domainemoji.EntryKind, error)
}

// ContentStore keeps uploaded images keyed by the SHA-1 of their bytes.
type ContentStore interface {
	Put(ctx context.Context, image domainemoji.Image) (string, error)
	Get(ctx context.Context, sha1 string) (domainemoji.Image, error)
}

// AttachmentFetcher downloads a file shared in chat from its private URL.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, url string) ([]byte, error)
}
