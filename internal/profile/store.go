package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/die-net/proxyctl/internal/proxy"
)

// FileName is the name of the profile file inside the config directory.
const FileName = "profiles.ini"

// Store reads and writes profiles. The file is re-read on every call so
// edits made by another process are picked up.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a Store backed by dir/profiles.ini, creating the directory
// and an empty file if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[DEFAULT]\n"), 0o600); err != nil {
			return nil, fmt.Errorf("create profile file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat profile file: %w", err)
	}

	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Add saves p, replacing any profile with the same name.
func (s *Store) Add(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	f.DeleteSection(p.Name)
	sec, err := f.NewSection(p.Name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	sec.Key("type").SetValue(string(p.Type))
	sec.Key("host").SetValue(p.Upstream.Host)
	sec.Key("port").SetValue(strconv.Itoa(p.Upstream.Port))
	sec.Key("username").SetValue(p.Upstream.Username)

	return s.save(f)
}

// Get returns the named profile or ErrNotFound.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Profile{}, err
	}

	sec, err := f.GetSection(name)
	if err != nil || name == ini.DefaultSection {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return fromSection(sec)
}

// List returns every profile ordered by name.
func (s *Store) List() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}

	var out []Profile
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		p, err := fromSection(sec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Delete removes the named profile or returns ErrNotFound.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if _, err := f.GetSection(name); err != nil || name == ini.DefaultSection {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	f.DeleteSection(name)
	return s.save(f)
}

func (s *Store) load() (*ini.File, error) {
	f, err := ini.Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return f, nil
}

// save writes f next to the profile file and renames it into place.
func (s *Store) save(f *ini.File) error {
	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if _, err := f.WriteTo(out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func fromSection(sec *ini.Section) (Profile, error) {
	t, err := ParseType(sec.Key("type").String())
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", sec.Name(), err)
	}
	port, err := sec.Key("port").Int()
	if err != nil {
		return Profile{}, fmt.Errorf("%w: profile %q: port: %w", ErrInvalid, sec.Name(), err)
	}

	return Profile{
		Name: sec.Name(),
		Type: t,
		Upstream: proxy.Upstream{
			Host:     sec.Key("host").String(),
			Port:     port,
			Username: sec.Key("username").String(),
		},
	}, nil
}
