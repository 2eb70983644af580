package source

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	pathpkg "path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/pkg/errors"
)

// Collect returns the sources to pack, in packing order.
//
// path may be a directory, an archive (.zip or .7z) or a single sprite file.
// If names is empty every supported, non-hidden file in path is used, ordered
// by file name. Otherwise each name is resolved in turn, either as given if
// it has a supported extension or by trying each of Extensions; a name that
// cannot be resolved returns ErrNotFound.
func Collect(path string, names []string) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%q", path)
		}
		return nil, err
	}

	var entries []Entry
	switch {
	case info.IsDir():
		if len(names) > 0 {
			return resolveNames(path, names)
		}
		entries, err = scanDirectory(path)
	case isArchive(path):
		entries, err = scanArchive(path)
	case supported(path):
		entries = []Entry{fileEntry(Stem(path), path)}
	default:
		return nil, errors.Wrapf(ErrUnsupported, "%q", path)
	}
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return entries, nil
	}

	return selectNames(path, entries, names)
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".7z":
		return true
	}
	return false
}

func hidden(name string) bool {
	return name == "" || name[0] == '.'
}

func fileEntry(name, path string) Entry {
	return Entry{
		Name: name,
		Path: path,
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

func memoryEntry(name, path string, b []byte) Entry {
	return Entry{
		Name: name,
		Path: path,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		},
	}
}

func resolveNames(dir string, names []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		file, err := resolve(dir, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntry(Stem(name), file))
	}
	return entries, nil
}

func resolve(dir, name string) (string, error) {
	candidates := make([]string, 0, len(Extensions)+1)
	if supported(name) {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, ext := range Extensions {
		candidates = append(candidates, filepath.Join(dir, name+ext))
	}

	for _, file := range candidates {
		info, err := os.Stat(file)
		switch {
		case err == nil && info.Mode().IsRegular():
			return file, nil
		case err != nil && !os.IsNotExist(err):
			return "", err
		}
	}

	return "", errors.Wrapf(ErrNotFound, "%q in %q", name, dir)
}

func scanDirectory(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, file := range files {
		// Ignore any hidden files, otherwise we end up fighting with things like Spotlight, etc.
		if hidden(file.Name()) {
			continue
		}

		if !file.Type().IsRegular() || !supported(file.Name()) {
			continue
		}

		entries = append(entries, fileEntry(Stem(file.Name()), filepath.Join(dir, file.Name())))
	}

	return entries, nil
}

func scanArchive(path string) ([]Entry, error) {
	if strings.ToLower(filepath.Ext(path)) == ".7z" {
		return scanSevenZip(path)
	}
	return scanZip(path)
}

// archiveFile is the common part of a zip and 7z archive member.
type archiveFile interface {
	Open() (io.ReadCloser, error)
}

func archiveEntry(archive, name string, f archiveFile) (Entry, error) {
	rc, err := f.Open()
	if err != nil {
		return Entry{}, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return Entry{}, err
	}

	return memoryEntry(Stem(name), archive+"/"+name, b), nil
}

func wanted(name string) bool {
	if strings.HasSuffix(name, "/") || !supported(name) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if hidden(part) || part == "__MACOSX" {
			return false
		}
	}
	return true
}

func scanZip(path string) ([]Entry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	for _, f := range r.File {
		name := pathpkg.Clean(filepath.ToSlash(f.Name))
		if f.FileInfo().IsDir() || !wanted(name) {
			continue
		}
		e, err := archiveEntry(path, name, f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sortEntries(entries)

	return entries, nil
}

func scanSevenZip(path string) ([]Entry, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	for _, f := range r.File {
		name := pathpkg.Clean(filepath.ToSlash(f.Name))
		if f.FileInfo().IsDir() || !wanted(name) {
			continue
		}
		e, err := archiveEntry(path, name, f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sortEntries(entries)

	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

// selectNames picks the named entries out of an archive listing. A name
// matches an entry by its full member path or by its stem.
func selectNames(path string, entries []Entry, names []string) ([]Entry, error) {
	selected := make([]Entry, 0, len(names))
	for _, name := range names {
		e, ok := lookup(path, entries, name)
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "%q in %q", name, path)
		}
		selected = append(selected, e)
	}
	return selected, nil
}

func lookup(path string, entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.Path == path+"/"+name {
			return e, true
		}
	}
	// Extension order decides between sprite.png and sprite.gif
	for _, ext := range Extensions {
		for _, e := range entries {
			member := strings.TrimPrefix(e.Path, path+"/")
			if strings.EqualFold(pathpkg.Ext(member), ext) && strings.TrimSuffix(member, pathpkg.Ext(member)) == name {
				return e, true
			}
		}
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
