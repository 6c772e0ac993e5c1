package emoji

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"party_parrot", "a-b", "plus+1", "x9"} {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q) error = %v", name, err)
		}
	}

	err := ValidateName("Bad Name")
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("ValidateName(Bad Name) error = %v", err)
	}
	msg, ok := UserMessage(err)
	if !ok || !strings.Contains(msg, "letters, numbers, underscore, hyphen, and plus") {
		t.Fatalf("UserMessage() = %q, %v", msg, ok)
	}

	if err := ValidateName("image"); !errors.Is(err, ErrReservedName) {
		t.Fatalf("ValidateName(image) error = %v", err)
	}
}

func TestValidateImageType(t *testing.T) {
	if err := ValidateImageType("image/GIF"); err != nil {
		t.Fatalf("ValidateImageType(gif) error = %v", err)
	}
	if err := ValidateImageType("image/webp"); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("ValidateImageType(webp) error = %v", err)
	}
}

func TestNameFromFile(t *testing.T) {
	name, ext := NameFromFile("Party_Parrot.GIF")
	if name != "party_parrot" || ext != "gif" {
		t.Fatalf("NameFromFile() = %q, %q", name, ext)
	}
	name, ext = NameFromFile("archive.tar.gz")
	if name != "archive.tar" || ext != "gz" {
		t.Fatalf("NameFromFile() = %q, %q", name, ext)
	}
	name, ext = NameFromFile("noext")
	if name != "noext" || ext != "" {
		t.Fatalf("NameFromFile() = %q, %q", name, ext)
	}
}

func TestStripColons(t *testing.T) {
	if got := StripColons(":tada:"); got != "tada" {
		t.Fatalf("StripColons() = %q", got)
	}
	if got := StripColons("tada"); got != "tada" {
		t.Fatalf("StripColons() = %q", got)
	}
}

func TestCheckNotBuiltIn(t *testing.T) {
	entries := map[string]EntryKind{"smile": EntryBuiltIn, "parrot": EntryCustom}
	if err := CheckNotBuiltIn("smile", entries); !errors.Is(err, ErrBuiltInEntry) {
		t.Fatalf("CheckNotBuiltIn(smile) error = %v", err)
	}
	if err := CheckNotBuiltIn("parrot", entries); err != nil {
		t.Fatalf("CheckNotBuiltIn(parrot) error = %v", err)
	}
	if err := CheckLive("ghost", entries); !errors.Is(err, ErrEntryMissing) {
		t.Fatalf("CheckLive(ghost) error = %v", err)
	}
}
