package gitutil

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diffpilot/diffpilot/internal/core"
)

const (
	maxSearchHits    = 50
	maxSearchedBytes = 512 << 10
	maxSnippetLen    = 200
)

// searchTree walks the working tree and collects case-insensitive substring
// matches. Files with more matches rank first; ties break on path so results
// are deterministic.
func searchTree(dir, query string, limit int) ([]core.SearchHit, error) {
	needle := strings.ToLower(query)
	perFile := make(map[string][]core.SearchHit)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxSearchedBytes {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			// Unreadable or binary; not searchable text.
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64<<10), maxSearchedBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			perFile[rel] = append(perFile[rel], core.SearchHit{
				Path:    rel,
				Line:    lineNo,
				Snippet: clipSnippet(line),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(perFile))
	for p := range perFile {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(perFile[paths[i]]) != len(perFile[paths[j]]) {
			return len(perFile[paths[i]]) > len(perFile[paths[j]])
		}
		return paths[i] < paths[j]
	})

	var hits []core.SearchHit
	for _, p := range paths {
		for _, h := range perFile[p] {
			hits = append(hits, h)
			if len(hits) >= limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}

func clipSnippet(line string) string {
	s := strings.TrimSpace(line)
	if len(s) > maxSnippetLen {
		s = s[:maxSnippetLen]
	}
	return s
}
