package favorites

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"

	"relaydir/internal/shared/logger"
)

// Store is a plaintext file-backed set of favorite server hostnames, one per
// line. It is a user-preference side store; the registry core never reads it.
type Store struct {
	filePath string

	mu    sync.RWMutex
	hosts map[string]struct{}
}

// NewStore creates a store bound to filePath. Call Load before first use.
func NewStore(filePath string) *Store {
	return &Store{
		filePath: filePath,
		hosts:    make(map[string]struct{}),
	}
}

// Load reads the favorites file into memory. A missing file is an empty set,
// not an error; malformed lines are skipped.
func (s *Store) Load() error {
	l := logger.WithComponent("Favorites/Store")

	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", s.filePath).Msg("Favorites file not found, starting with an empty set.")
			return nil
		}
		return err
	}
	defer file.Close()

	hosts := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host == "" || strings.ContainsAny(host, " \t,") {
			continue
		}
		hosts[host] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.hosts = hosts
	s.mu.Unlock()

	l.Info().Int("count", len(hosts)).Msg("Loaded favorites from file.")
	return nil
}

// Add marks a hostname as favorite and persists the set.
func (s *Store) Add(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil
	}
	s.mu.Lock()
	s.hosts[host] = struct{}{}
	s.mu.Unlock()
	return s.save()
}

// Remove unmarks a hostname and persists the set.
func (s *Store) Remove(host string) error {
	s.mu.Lock()
	delete(s.hosts, strings.TrimSpace(host))
	s.mu.Unlock()
	return s.save()
}

// Contains reports whether a hostname is marked favorite.
func (s *Store) Contains(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hosts[host]
	return ok
}

// List returns all favorite hostnames in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	hosts := make([]string, 0, len(s.hosts))
	for host := range s.hosts {
		hosts = append(hosts, host)
	}
	s.mu.RUnlock()

	sort.Strings(hosts)
	return hosts
}

func (s *Store) save() error {
	hosts := s.List()

	var sb strings.Builder
	for _, host := range hosts {
		sb.WriteString(host)
		sb.WriteString("\n")
	}
	return os.WriteFile(s.filePath, []byte(sb.String()), 0644)
}
