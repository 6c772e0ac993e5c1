package emoji

import "time"

type Proposal struct {
	ID         string
	Created    time.Time
	State      State
	Action     Action
	Emoji      string
	FileRef    string
	Alias      bool
	Canonical  string
	Thread     string
	Permalink  string
	User       string
	PreviewRef string
}

// MirrorEntry is the local copy of one live directory entry created by a proposal.
type MirrorEntry struct {
	Name       string
	FileRef    string
	Alias      bool
	Canonical  string
	Updated    time.Time
	ProposalID string
}

type Image struct {
	SHA1        string
	ContentType string
	Data        []byte
}

type EntryKind string

const (
	EntryCustom  EntryKind = "custom"
	EntryAlias   EntryKind = "alias"
	EntryBuiltIn EntryKind = "builtin"
)
