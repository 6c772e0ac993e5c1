package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/ports"
)

// Directory is an in-process emoji directory used by the memory driver and tests.
type Directory struct {
	mu      sync.Mutex
	entries map[string]domainemoji.EntryKind
	calls   []string
	fail    map[string]error
}

var _ ports.DirectoryGateway = (*Directory)(nil)

func NewDirectory(builtIns ...string) *Directory {
	entries := make(map[string]domainemoji.EntryKind, len(builtIns))
	for _, name := range builtIns {
		entries[name] = domainemoji.EntryBuiltIn
	}
	return &Directory{
		entries: entries,
		fail:    map[string]error{},
	}
}

// FailNext makes the next call of method ("add", "alias", "remove", "list") return err.
func (d *Directory) FailNext(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[method] = err
}

func (d *Directory) Seed(name string, kind domainemoji.EntryKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[name] = kind
}

// Calls returns the mutating calls made so far, as "method:name".
func (d *Directory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *Directory) AddEntry(ctx context.Context, name string, image domainemoji.Image) error {
	if err := d.begin(ctx, "add", name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entries[name] == domainemoji.EntryBuiltIn {
		return fmt.Errorf("%w: %s", domainemoji.ErrEntryExists, name)
	}
	d.entries[name] = domainemoji.EntryCustom
	return nil
}

func (d *Directory) AddAlias(ctx context.Context, name string, canonical string) error {
	if err := d.begin(ctx, "alias", name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[canonical]; !ok {
		return fmt.Errorf("alias target %s does not exist", canonical)
	}
	d.entries[name] = domainemoji.EntryAlias
	return nil
}

func (d *Directory) RemoveEntry(ctx context.Context, name string) error {
	if err := d.begin(ctx, "remove", name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; !ok {
		return fmt.Errorf("%w: %s", domainemoji.ErrEntryNotFound, name)
	}
	delete(d.entries, name)
	return nil
}

func (d *Directory) ListEntries(ctx context.Context) (map[string]domainemoji.EntryKind, error) {
	if err := d.take(ctx, "list"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]domainemoji.EntryKind, len(d.entries))
	for name, kind := range d.entries {
		out[name] = kind
	}
	return out, nil
}

func (d *Directory) begin(ctx context.Context, method string, name string) error {
	d.mu.Lock()
	d.calls = append(d.calls, method+":"+name)
	d.mu.Unlock()
	return d.take(ctx, method)
}

func (d *Directory) take(ctx context.Context, method string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[method]; ok {
		delete(d.fail, method)
		return err
	}
	return nil
}
