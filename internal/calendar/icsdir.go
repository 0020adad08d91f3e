package calendar

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"calmirror/internal/ics"
)

// DirClient stores a calendar as a directory holding one .ics file per
// event, the layout used by vdir-style tooling. The file name is the
// path-escaped UID.
type DirClient struct {
	id  string
	dir string
}

// NewDirClient opens (creating if needed) a directory-backed calendar.
func NewDirClient(id, dir string) (*DirClient, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open calendar directory %s: %w", dir, err)
	}
	return &DirClient{id: id, dir: dir}, nil
}

// ID implements Client.
func (d *DirClient) ID() string { return d.id }

func (d *DirClient) path(uid string) string {
	return filepath.Join(d.dir, url.PathEscape(uid)+".ics")
}

// FetchAll implements Client.
func (d *DirClient) FetchAll(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: list %s: %w", d.id, d.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".ics") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(d.dir, name))
		if err != nil {
			return nil, fmt.Errorf("calendar %s: read %s: %w", d.id, name, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

// Create implements Client. The UID embedded in the text is kept as-is.
func (d *DirClient) Create(_ context.Context, text string) (string, error) {
	ev, err := ics.Parse(text)
	if err != nil {
		return "", fmt.Errorf("calendar %s: create: %w", d.id, err)
	}
	uid := ev.UID()
	if uid == "" {
		return "", fmt.Errorf("calendar %s: create: event has no UID", d.id)
	}
	path := d.path(uid)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("calendar %s: create: uid %s already exists", d.id, uid)
	}
	if err := writeAtomic(path, ev.Serialize()); err != nil {
		return "", fmt.Errorf("calendar %s: create %s: %w", d.id, uid, err)
	}
	return uid, nil
}

// Modify implements Client.
func (d *DirClient) Modify(_ context.Context, text string) error {
	ev, err := ics.Parse(text)
	if err != nil {
		return fmt.Errorf("calendar %s: modify: %w", d.id, err)
	}
	uid := ev.UID()
	path := d.path(uid)
	if _, err := os.Stat(path); err != nil {
		return notFound(d.id, uid)
	}
	if err := writeAtomic(path, ev.Serialize()); err != nil {
		return fmt.Errorf("calendar %s: modify %s: %w", d.id, uid, err)
	}
	return nil
}

// Remove implements Client.
func (d *DirClient) Remove(_ context.Context, uid string) error {
	err := os.Remove(d.path(uid))
	if os.IsNotExist(err) {
		return notFound(d.id, uid)
	}
	if err != nil {
		return fmt.Errorf("calendar %s: remove %s: %w", d.id, uid, err)
	}
	return nil
}

// Fetch implements Client.
func (d *DirClient) Fetch(_ context.Context, uid string) (string, error) {
	data, err := os.ReadFile(d.path(uid))
	if os.IsNotExist(err) {
		return "", notFound(d.id, uid)
	}
	if err != nil {
		return "", fmt.Errorf("calendar %s: fetch %s: %w", d.id, uid, err)
	}
	return string(data), nil
}

// writeAtomic writes via a temp file and rename so a crash never leaves a
// half-written event behind.
func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calmirror-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Discover lists the calendar names under a root directory: every
// subdirectory is treated as one calendar.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover calendars in %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
