package attrstore

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/logflags"
)

// File persists the attributes of several breakpoints in a single YAML
// document, one mapping per breakpoint name. Every update rewrites the
// file; an update that can not be written is not applied.
type File struct {
	path string
	mu   sync.RWMutex
	doc  map[string]map[string]interface{}
}

// OpenFile loads path, a missing file is treated as empty.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, doc: make(map[string]map[string]interface{})}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &f.doc); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %v", path, err)
	}
	if f.doc == nil {
		f.doc = make(map[string]map[string]interface{})
	}
	return f, nil
}

// Names returns the names of the breakpoints saved in the file.
func (f *File) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r := make([]string, 0, len(f.doc))
	for name := range f.doc {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// Store returns the attribute store of the breakpoint called name.
func (f *File) Store(name string) *FileStore {
	return &FileStore{f: f, name: name}
}

func (f *File) write(doc map[string]map[string]interface{}) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Dir(f.path), ".attrs-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// FileStore is the AttributeStore of one breakpoint of a File.
type FileStore struct {
	f    *File
	name string
}

func (s *FileStore) Attribute(key string, def interface{}) interface{} {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	if v, ok := s.f.doc[s.name][key]; ok {
		return v
	}
	return def
}

// SetAttributes updates the attributes and saves the file. If the file can
// not be written the attributes are left unchanged and the returned error
// wraps breakpoint.ErrStoreUnavailable.
func (s *FileStore) SetAttributes(attrs map[string]interface{}) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	doc := make(map[string]map[string]interface{}, len(s.f.doc)+1)
	for name, m := range s.f.doc {
		doc[name] = m
	}
	merged := make(map[string]interface{}, len(doc[s.name])+len(attrs))
	for k, v := range doc[s.name] {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	doc[s.name] = merged
	if err := s.f.write(doc); err != nil {
		logflags.EngineLogger().Errorf("could not save attributes of %s: %v", s.name, err)
		return fmt.Errorf("%w: %v", breakpoint.ErrStoreUnavailable, err)
	}
	s.f.doc = doc
	return nil
}
