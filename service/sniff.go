package service

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Accepted upload types
const (
	MIMETypePDF   = "application/pdf"
	MIMETypePlain = "text/plain"
)

// MIMEUnknown is returned when the content matches no known signature.
const MIMEUnknown = "unknown"

var allowedTypes = map[string]string{
	MIMETypePDF:   "pdf",
	MIMETypePlain: "txt",
}

// markupTypes are text subtypes that are never ingested as plain text,
// even though the detector files them under text/plain.
var markupTypes = []string{"text/html", "image/svg+xml", "text/xml"}

// Sniff reports the media type of data from its leading bytes only.
// Parameters such as charset are stripped. Subtypes of an allowed type,
// such as text/csv or application/json under text/plain, report the
// allowed ancestor.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return MIMEUnknown
	}

	detected := mimetype.Detect(data)
	if !isMarkup(detected) {
		for m := detected; m != nil; m = m.Parent() {
			if base := baseType(m); Allowed(base) {
				return base
			}
		}
	}

	base := baseType(detected)
	if base == "application/octet-stream" {
		return MIMEUnknown
	}
	return base
}

func isMarkup(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		for _, t := range markupTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

func baseType(m *mimetype.MIME) string {
	base, _, _ := strings.Cut(m.String(), ";")
	return base
}

// Allowed reports whether mimeType may be ingested.
func Allowed(mimeType string) bool {
	_, ok := allowedTypes[mimeType]
	return ok
}

// Extension returns the storage key extension for an allowed type.
func Extension(mimeType string) string {
	return allowedTypes[mimeType]
}
