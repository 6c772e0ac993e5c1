package emoji

import (
	"path"
	"regexp"
	"strings"
)

var nameRule = regexp.MustCompile(`^[-+_a-z0-9]+$`)

var supportedImageTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpg":  {},
	"image/jpeg": {},
	"image/gif":  {},
}

// clipboard pastes arrive as image.png
const reservedName = "image"

func ValidateName(name string) error {
	if name == reservedName {
		return reject(ErrReservedName, "Sorry, for boring reasons we don't support managing the emoji `:%s:`", name)
	}
	if !nameRule.MatchString(name) {
		return reject(ErrInvalidName, "`:%s:` contains characters that Slack wont allow. Slack only allows letters, numbers, underscore, hyphen, and plus, please choose another name.", name)
	}
	return nil
}

func ValidateImageType(contentType string) error {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if _, ok := supportedImageTypes[normalized]; !ok {
		return reject(ErrUnsupportedImage, "That's a nice file you have, there. Sadly, I don't know how to handle a file of type `%s`. Try again with a jpg, png, or gif.", contentType)
	}
	return nil
}

// NameFromFile lowercases the file name and splits off the last extension.
func NameFromFile(fileName string) (string, string) {
	base := strings.ToLower(path.Base(strings.TrimSpace(fileName)))
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext), strings.TrimPrefix(ext, ".")
}

// StripColons turns ":name:" into "name".
func StripColons(token string) string {
	trimmed := strings.TrimSpace(token)
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, ":") && strings.HasSuffix(trimmed, ":") {
		return trimmed[1 : len(trimmed)-1]
	}
	return trimmed
}

func CheckNotBuiltIn(name string, entries map[string]EntryKind) error {
	if entries[name] == EntryBuiltIn {
		return reject(ErrBuiltInEntry, "`:%s:` is a built-in emoji, and there is no way to override that. Sorry, please choose another name.", name)
	}
	return nil
}

func CheckLive(name string, entries map[string]EntryKind) error {
	if _, ok := entries[name]; !ok {
		return reject(ErrEntryMissing, "`:%s:` does not exist yet. Please, try again.", name)
	}
	return nil
}
