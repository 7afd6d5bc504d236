package documents

import (
	"os"
	"path/filepath"
	"strings"

	"lsp-pool/src/internal/constants"
	"lsp-pool/src/utils"
)

// DetectLanguage detects the programming language from a file URI or path
func DetectLanguage(uri string) string {
	path := utils.URIToFilePath(uri)
	ext := strings.ToLower(filepath.Ext(path))

	for language, exts := range constants.SupportedExtensions {
		for _, e := range exts {
			if ext == e {
				return language
			}
		}
	}
	return ""
}

// ReadFileText reads the document content for a didOpen notification.
// Missing or unreadable files yield empty content rather than an error;
// the server will produce its own diagnostics for them.
func ReadFileText(uri string) string {
	path := utils.URIToFilePath(uri)
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(content)
}

// OpenTracker tracks which documents are open in a single client and
// enforces the open-file cap. It is not safe for concurrent use; the
// owning client serializes access.
type OpenTracker struct {
	maxOpen int
	order   []string // didOpen order, oldest first
	open    map[string]bool
}

// NewOpenTracker creates a tracker with the given cap. A cap of zero or
// less means unlimited.
func NewOpenTracker(maxOpen int) *OpenTracker {
	return &OpenTracker{
		maxOpen: maxOpen,
		open:    make(map[string]bool),
	}
}

// Open records uri as open. It returns whether the document was already
// open and the list of documents that must be closed to stay under the
// cap.
func (t *OpenTracker) Open(uri string) (alreadyOpen bool, toClose []string) {
	if t.open[uri] {
		return true, nil
	}

	t.open[uri] = true
	t.order = append(t.order, uri)

	if t.maxOpen > 0 {
		for len(t.order) > t.maxOpen {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.open, oldest)
			toClose = append(toClose, oldest)
		}
	}
	return false, toClose
}

// IsOpen reports whether uri is currently tracked as open.
func (t *OpenTracker) IsOpen(uri string) bool {
	return t.open[uri]
}

// Len returns the number of tracked open documents.
func (t *OpenTracker) Len() int {
	return len(t.order)
}
