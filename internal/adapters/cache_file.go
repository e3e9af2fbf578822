package adapters

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"flakepin/internal/ports"
)

var unsafeKeySpaceChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CacheFileAdapter keeps one YAML file per key space under Dir.
type CacheFileAdapter struct {
	Dir string
}

func NewCacheFileAdapter(dir string) CacheFileAdapter {
	return CacheFileAdapter{Dir: dir}
}

func (a CacheFileAdapter) Load(keySpace string) (map[string]string, error) {
	path, err := a.path(keySpace)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read cache %s", path)).
			WithCause(err)
	}
	entries := map[string]string{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid cache file %s", path)).
			WithCause(err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return entries, nil
}

// Save replaces the key space file in one rename so readers never see a
// partial file.
func (a CacheFileAdapter) Save(keySpace string, entries map[string]string) error {
	path, err := a.path(keySpace)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to marshal cache").
			WithCause(err)
	}
	return writeFileAtomic(path, data)
}

func (a CacheFileAdapter) path(keySpace string) (string, error) {
	if strings.TrimSpace(a.Dir) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("cache directory is required")
	}
	name := strings.Trim(unsafeKeySpaceChars.ReplaceAllString(keySpace, "_"), "._")
	if name == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid cache key space %q", keySpace))
	}
	return filepath.Join(a.Dir, name+".yaml"), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to create directory for %s", path)).
			WithCause(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", path)).
			WithCause(err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", path)).
			WithCause(err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write %s", path)).
			WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to replace %s", path)).
			WithCause(err)
	}
	return nil
}

var _ ports.CacheStorePort = CacheFileAdapter{}
