package fs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MkDataDir creates a directory (and its parent) for use as a node's data or log directory,
// optionally chowning it to the given OS user so that a non-root service process can write to it.
func MkDataDir(dir, owner string) error {
	parent, _ := filepath.Split(dir)
	// Use 0711 for parent directories to allow `owner` to access its nested data directory.
	if err := os.MkdirAll(parent, 0711); err != nil {
		return fmt.Errorf("create directory %q: %w", parent, err)
	}
	if err := os.Mkdir(dir, 0700); err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if err := Chown(dir, owner); err != nil {
		return err
	}
	return nil
}

func Chown(path, owner string) error {
	if owner != "" {
		usr, err := user.Lookup(owner)
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", owner, err)
		}
		uid, err := strconv.Atoi(usr.Uid)
		if err != nil {
			return fmt.Errorf("parse %q user ID (UID) %q: %w", owner, usr.Uid, err)
		}
		gid, err := strconv.Atoi(usr.Gid)
		if err != nil {
			return fmt.Errorf("parse %q user group ID (GID) %q: %w", owner, usr.Gid, err)
		}
		if err = os.Chown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %q: %w", path, err)
		}
	}
	return nil
}

// ExpandHomeDir expands a leading "~" in path to the current user's home directory.
func ExpandHomeDir(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) == 1 || path[1] == '/' {
		home := os.Getenv("HOME")
		if home == "" {
			if usr, err := user.Current(); err == nil {
				home = usr.HomeDir
			}
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// WriteFileAtomic writes data to a temporary file in the same directory as path and then renames it into
// place, so that concurrent readers of path never observe a partially written file. The temporary file is
// fsynced before the rename so the write survives a crash between rename and the next read.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file %q: %w", tmpPath, err)
	}

	if _, err = f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file %q: %w", tmpPath, err)
	}
	if err = f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file %q: %w", tmpPath, err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file into place %q: %w", path, err)
	}
	return nil
}

// RemoveAllTolerant removes path and any children it contains, tolerating the case where path does not
// exist. Any other error (e.g. a permission error) is returned.
func RemoveAllTolerant(path string) error {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}
