package breadcrumb

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

const (
	// maxFileSize skips generated blobs and binaries.
	maxFileSize = 2 << 20
	// binarySniffLen is how much of a file is checked for NUL bytes.
	binarySniffLen = 8000
)

// ScanConfig configures a repository scan.
type ScanConfig struct {
	// Root is the directory to scan. Breadcrumb files are recorded relative to it.
	Root string
	// Include lists doublestar patterns of files to parse (default: everything).
	Include []string
	// Exclude lists doublestar patterns of files and directories to skip.
	Exclude []string
	// Workers bounds concurrent file parsing (default 8).
	Workers int
	// ResolveSymbols enables tree-sitter symbol lookup.
	ResolveSymbols bool
	// Logger for scan progress.
	Logger *slog.Logger
}

// Scanner builds a Graph from every annotated file under a root.
type Scanner struct {
	config   ScanConfig
	logger   *slog.Logger
	resolver *SymbolResolver
}

// NewScanner creates a scanner.
func NewScanner(config ScanConfig) *Scanner {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if len(config.Include) == 0 {
		config.Include = []string{"**/*"}
	}
	s := &Scanner{config: config, logger: logger}
	if config.ResolveSymbols {
		s.resolver = NewSymbolResolver()
	}
	return s
}

// Matches reports whether a root-relative, slash-separated path is selected by the
// include and exclude patterns.
func (s *Scanner) Matches(rel string) bool {
	for _, p := range s.config.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	for _, p := range s.config.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// excludedDir reports whether an entire directory can be pruned.
func (s *Scanner) excludedDir(rel string) bool {
	for _, p := range s.config.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel+"/_"); ok {
			return true
		}
	}
	return false
}

// Files lists the root-relative paths the scan would parse.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	root := s.config.Root
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && s.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && s.Matches(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// Scan parses every selected file concurrently and returns a new graph.
func (s *Scanner) Scan(ctx context.Context) (*Graph, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*ParseResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, rel := range files {
		g.Go(func() error {
			res, err := s.ScanFile(gctx, rel)
			if err != nil {
				// Unreadable files are skipped; the rest of the scan proceeds.
				s.logger.Warn("Failed to scan file", "path", rel, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph := NewGraph()
	for _, res := range results {
		graph.AddResult(res)
	}
	s.logger.Debug("Breadcrumb scan complete",
		"root", s.config.Root,
		"files", len(files),
		"breadcrumbs", graph.Len(),
		"warnings", len(graph.Warnings()))
	return graph, nil
}

// ScanFile parses one root-relative file. Binary and oversized files yield nil.
func (s *Scanner) ScanFile(ctx context.Context, rel string) (*ParseResult, error) {
	path := filepath.Join(s.config.Root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, nil
	}
	if !bytes.Contains(content, []byte("AI_")) {
		return nil, nil
	}

	res, err := Parse(rel, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if s.resolver != nil && s.resolver.Supports(rel) {
		if err := s.resolver.Resolve(ctx, rel, content, res); err != nil {
			s.logger.Debug("Symbol resolution failed", "path", rel, "error", err)
		}
	}
	return res, nil
}
