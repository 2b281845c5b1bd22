// Package scan locates the source and label subtrees of a vendor corpus
// drop and walks every file beneath them.
//
// Vendor archives name these folders inconsistently ("01.원천데이터", "TS",
// ...) and archives unpacked on macOS carry NFD-decomposed Hangul, so folder
// names and keywords are both compared in NFC.
package scan

import (
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"nl2sql/internal/textenc"
)

// File is one file found by Walk.
type File struct {
	// Dir is the containing directory.
	Dir string
	// Name is the base name as stored on disk.
	Name string
}

// Path joins Dir and Name.
func (f File) Path() string { return filepath.Join(f.Dir, f.Name) }

// Ext returns the lower-cased extension of Name, including the dot.
func (f File) Ext() string { return strings.ToLower(filepath.Ext(f.Name)) }

// FindRoot returns the first immediate child directory of dir whose name
// contains any of keywords (case-sensitive substring match, in NFC).
// Children are visited in lexical order. Plain files never match.
//
// Errors:
//   - Returns an error when dir cannot be read; found is false.
func FindRoot(dir string, keywords []string) (path string, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("scan: read %s: %w", dir, err)
	}

	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = textenc.NFC(k); k != "" {
			kws = append(kws, k)
		}
	}

	// os.ReadDir already sorts by file name.
	for _, e := range entries {
		name := textenc.NFC(e.Name())
		if !matchesAny(name, kws) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if !isDir(p, e) {
			continue
		}
		return p, true, nil
	}
	return "", false, nil
}

func matchesAny(name string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// isDir follows symlinks.
func isDir(p string, e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// Walk yields every file at every depth beneath root, in lexical order per
// directory (deterministic for a given filesystem state). Directories,
// including symlinked ones, are not yielded and symlinked directories are
// not descended into.
//
// An error reading any directory is yielded once with a zero File; the
// consumer decides whether to stop.
func Walk(root string) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(File{}, fmt.Errorf("scan: walk %s: %w", p, err)) {
					return fs.SkipAll
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || isDir(p, d) {
				return nil
			}
			if !yield(File{Dir: filepath.Dir(p), Name: d.Name()}, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(File{}, fmt.Errorf("scan: walk %s: %w", root, err))
		}
	}
}
