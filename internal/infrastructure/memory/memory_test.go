package memory

import (
	"context"
	"errors"
	"testing"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/ports"
)

func TestDirectoryLifecycle(t *testing.T) {
	dir := NewDirectory("smile")
	ctx := context.Background()

	if err := dir.AddEntry(ctx, "party_parrot", domainemoji.Image{SHA1: "a"}); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := dir.AddAlias(ctx, "pp", "party_parrot"); err != nil {
		t.Fatalf("AddAlias() error = %v", err)
	}
	if err := dir.AddAlias(ctx, "x", "missing"); err == nil {
		t.Fatalf("AddAlias(missing) expected error")
	}
	if err := dir.AddEntry(ctx, "smile", domainemoji.Image{SHA1: "b"}); !errors.Is(err, domainemoji.ErrEntryExists) {
		t.Fatalf("AddEntry(built-in) error = %v, want ErrEntryExists", err)
	}

	entries, err := dir.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if entries["smile"] != domainemoji.EntryBuiltIn || entries["party_parrot"] != domainemoji.EntryCustom || entries["pp"] != domainemoji.EntryAlias {
		t.Fatalf("ListEntries() = %v", entries)
	}

	if err := dir.RemoveEntry(ctx, "pp"); err != nil {
		t.Fatalf("RemoveEntry() error = %v", err)
	}
	if err := dir.RemoveEntry(ctx, "pp"); !errors.Is(err, domainemoji.ErrEntryNotFound) {
		t.Fatalf("RemoveEntry(again) error = %v", err)
	}
}

func TestDirectoryFailNextIsOneShot(t *testing.T) {
	dir := NewDirectory()
	ctx := context.Background()
	boom := errors.New("invalid_name")

	dir.FailNext("add", boom)
	if err := dir.AddEntry(ctx, "a", domainemoji.Image{}); !errors.Is(err, boom) {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if err := dir.AddEntry(ctx, "a", domainemoji.Image{}); err != nil {
		t.Fatalf("AddEntry() second error = %v", err)
	}
	if calls := dir.Calls(); len(calls) != 2 || calls[0] != "add:a" {
		t.Fatalf("Calls() = %v", calls)
	}
}

func TestNotifierRecordsAndDedupesFlags(t *testing.T) {
	n := NewNotifier()
	ctx := context.Background()

	ts1, _ := n.Post(ctx, ports.Message{Channel: "C1", Text: "one"})
	ts2, _ := n.Post(ctx, ports.Message{Channel: "C1", Text: "two"})
	if ts1 == ts2 {
		t.Fatalf("Post() returned duplicate refs %q", ts1)
	}

	_ = n.Flag(ctx, "C1", ts1, "triangular_flag_on_post")
	_ = n.Flag(ctx, "C1", ts1, "triangular_flag_on_post")
	if got := len(n.Reactions()); got != 1 {
		t.Fatalf("Reactions() len = %d", got)
	}
	if got := len(n.Messages()); got != 2 {
		t.Fatalf("Messages() len = %d", got)
	}
}
