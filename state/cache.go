package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dhcgn/mail-fraud-triage/model"
)

var (
	// ErrCacheMissing is returned when a record cache file does not exist.
	ErrCacheMissing = errors.New("record cache does not exist")
	// ErrCacheUnscoped is returned for a cache without a scope line.
	ErrCacheUnscoped = errors.New("record cache has no scope line")
)

// Scope identifies the corpus selection a cache was built from. A cache is
// only reusable by a scan with the same folder filter and owner set.
type Scope struct {
	Folder string   `json:"folder"`
	Owners []string `json:"owners,omitempty"`
}

// NewScope normalizes folder and owners so equal selections compare equal.
func NewScope(folder string, owners []string) Scope {
	s := Scope{Folder: strings.ToLower(strings.TrimSpace(folder))}
	seen := make(map[string]bool, len(owners))
	for _, o := range owners {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		s.Owners = append(s.Owners, o)
	}
	sort.Strings(s.Owners)
	return s
}

func (s Scope) Equal(o Scope) bool {
	return s.Folder == o.Folder && slices.Equal(s.Owners, o.Owners)
}

func (s Scope) String() string {
	folder := s.Folder
	if folder == "" {
		folder = "*"
	}
	if len(s.Owners) == 0 {
		return "folder=" + folder
	}
	return "folder=" + folder + " owners=" + strings.Join(s.Owners, ",")
}

// scopeLine is the first line of every cache file.
type scopeLine struct {
	CacheScope *Scope `json:"cache_scope"`
}

// maxRecordLine bounds one JSONL line; some archived messages are large.
const maxRecordLine = 64 * 1024 * 1024

// CacheWriter appends parsed records to a JSONL cache so later scans can
// skip walking and parsing the corpus.
type CacheWriter struct {
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
	written int
}

// NewCacheWriter truncates path and writes the scope line.
func NewCacheWriter(path string, scope Scope) (*CacheWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is empty")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open cache file for write: %w", err)
	}

	c := &CacheWriter{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024), // 64KB buffer
	}

	data, err := json.Marshal(scopeLine{CacheScope: &scope})
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("encode cache scope: %w", err)
	}
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write cache scope: %w", err)
	}
	return c, nil
}

func (c *CacheWriter) Path() string {
	return c.path
}

// Write appends one record.
func (c *CacheWriter) Write(m model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	c.written++
	return nil
}

// Written returns the number of records written so far.
func (c *CacheWriter) Written() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.written
}

// Flush writes any buffered data to the underlying file.
func (c *CacheWriter) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("flush cache file: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("sync cache file: %w", err)
	}
	return nil
}

// Close flushes and closes the cache file.
func (c *CacheWriter) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var firstErr error
	if err := c.writer.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("flush cache file: %w", err)
	}
	if err := c.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync cache file: %w", err)
	}
	if err := c.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close cache file: %w", err)
	}

	return firstErr
}

// CacheExists reports whether a cache file is present at path.
func CacheExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CacheMatches reports whether a cache exists at path and was built for scope.
func CacheMatches(path string, scope Scope) bool {
	if !CacheExists(path) {
		return false
	}
	got, err := ReadScope(path)
	return err == nil && got.Equal(scope)
}

// ReadScope returns the scope recorded on the first line of the cache.
func ReadScope(path string) (Scope, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Scope{}, ErrCacheMissing
	}
	if err != nil {
		return Scope{}, fmt.Errorf("open cache file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Scope{}, fmt.Errorf("read cache file: %w", err)
		}
		return Scope{}, ErrCacheUnscoped
	}
	scope, ok := parseScope(scanner.Bytes())
	if !ok {
		return Scope{}, ErrCacheUnscoped
	}
	return scope, nil
}

func parseScope(line []byte) (Scope, bool) {
	var sl scopeLine
	if err := json.Unmarshal(line, &sl); err != nil || sl.CacheScope == nil {
		return Scope{}, false
	}
	return *sl.CacheScope, true
}

// ReadCache calls fn for every record in the cache at path, in file order.
// The scope line is skipped.
func ReadCache(path string, fn func(m model.Message) error) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrCacheMissing
	}
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		if line == 1 {
			if _, ok := parseScope(text); ok {
				continue
			}
		}

		var m model.Message
		if err := json.Unmarshal(text, &m); err != nil {
			return fmt.Errorf("parse cache line %d: %w", line, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read cache file: %w", err)
	}

	return nil
}
