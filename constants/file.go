package constants

import "strings"

// AllowedArchiveExtensions holds the accepted upload formats for audit jobs.
var AllowedArchiveExtensions = map[string]struct{}{
	"zip": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
