package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"nl2sql/internal/convert"
	"nl2sql/internal/corpus"
)

// writeOutputs writes the records file and then the gold file. Both hold
// the same records in the same order.
func writeOutputs(recordsPath, goldPath string, res convert.Result) error {
	records := res.Records
	if records == nil {
		records = []corpus.Record{}
	}
	if err := writeFileAtomic(recordsPath, func(f *os.File) error {
		return corpus.WriteJSON(f, records)
	}); err != nil {
		return err
	}
	return writeFileAtomic(goldPath, func(f *os.File) error {
		w := bufio.NewWriter(f)
		for _, g := range res.Gold() {
			if _, err := w.WriteString(g.String()); err != nil {
				return err
			}
		}
		return w.Flush()
	})
}

// writeFileAtomic writes path through a temp file in the same directory.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
