// Package loader reads files from the filesystem into documents.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/haasonsaas/ragline/pkg/models"
	"golang.org/x/text/encoding/charmap"
)

// ErrBinaryFile is returned when a file named directly looks binary.
var ErrBinaryFile = errors.New("binary file")

// sniffLen bounds the prefix inspected for binary detection.
const sniffLen = 8 << 10

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options controls directory loading.
type Options struct {
	// Recursive descends into subdirectories.
	Recursive bool

	// Glob filters file base names (filepath.Match syntax). Empty matches all.
	Glob string

	Logger *slog.Logger
}

// LoadDocuments loads every regular text file under path. A path naming a
// file loads just that file. Binary files found while walking are skipped.
// Documents are returned sorted by file path.
func LoadDocuments(ctx context.Context, path string, opts Options) ([]models.Document, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if !info.IsDir() {
		doc, err := LoadDocument(ctx, path)
		if err != nil {
			return nil, err
		}
		return []models.Document{doc}, nil
	}

	var docs []models.Document
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != path && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if opts.Glob != "" {
			ok, err := filepath.Match(opts.Glob, d.Name())
			if err != nil {
				return fmt.Errorf("invalid glob %q: %w", opts.Glob, err)
			}
			if !ok {
				return nil
			}
		}

		doc, err := LoadDocument(ctx, p)
		if errors.Is(err, ErrBinaryFile) {
			logger.Debug("skipping binary file", "path", p)
			return nil
		}
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Metadata[models.MetaFilePath] < docs[j].Metadata[models.MetaFilePath]
	})
	return docs, nil
}

// LoadDocument reads a single file. The document ID is derived from the
// absolute path, so reloading a file yields the same ID.
func LoadDocument(ctx context.Context, path string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.Document{}, fmt.Errorf("read %s: %w", abs, err)
	}
	if isBinary(data) {
		return models.Document{}, fmt.Errorf("%w: %s", ErrBinaryFile, abs)
	}

	content, err := decode(data)
	if err != nil {
		return models.Document{}, fmt.Errorf("decode %s: %w", abs, err)
	}

	return models.Document{
		ID:      DocumentID(abs),
		Content: content,
		Metadata: map[string]string{
			models.MetaFileName:      filepath.Base(abs),
			models.MetaFilePath:      abs,
			models.MetaDirectoryPath: filepath.Dir(abs),
		},
	}, nil
}

// DocumentID returns the stable ID for a file at an absolute path.
func DocumentID(absPath string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(absPath))).String()
}

// FromText wraps in-memory text as a document with optional metadata.
func FromText(text string, metadata map[string]string) models.Document {
	return models.Document{
		ID:       uuid.NewString(),
		Content:  text,
		Metadata: models.CloneMetadata(metadata),
	}
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	contentType := http.DetectContentType(head)
	switch {
	case strings.HasPrefix(contentType, "text/"),
		strings.Contains(contentType, "json"),
		strings.Contains(contentType, "xml"):
		return false
	case contentType == "application/octet-stream":
		// Unrecognized and NUL-free: likely text in a legacy encoding.
		return false
	default:
		return true
	}
}

// decode returns UTF-8 text, falling back to Windows-1252 for byte
// sequences that are not valid UTF-8.
func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
