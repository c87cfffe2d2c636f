package tunnel

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// Upstreams holds the tunnel targets and rotates through them in a
// round-robin fashion.
//
// Thread-safety: a sync.Mutex serialises all access to the list and the
// index, so Next may be called from any number of request goroutines while
// an operator reloads the file.
type Upstreams struct {
	targets []*url.URL
	index   int
	mutex   sync.Mutex
}

// ParseUpstream validates one upstream address. A bare host:port is taken to
// be plain HTTP.
func ParseUpstream(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("tunnel: parse upstream %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("tunnel: upstream %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tunnel: upstream %q: missing host", raw)
	}
	return u, nil
}

// Set replaces the rotation with addrs.
func (us *Upstreams) Set(addrs []string) error {
	targets := make([]*url.URL, 0, len(addrs))
	for _, a := range addrs {
		u, err := ParseUpstream(a)
		if err != nil {
			return err
		}
		targets = append(targets, u)
	}
	us.mutex.Lock()
	us.targets = targets
	us.index = 0
	us.mutex.Unlock()
	return nil
}

// LoadFile appends the newline-delimited addresses in filename to the
// rotation. Blank lines and lines beginning with '#' are ignored.
func (us *Upstreams) LoadFile(filename string) error {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return fmt.Errorf("tunnel: open %q: %w", filename, err)
	}
	defer f.Close()

	var loaded []*url.URL
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := ParseUpstream(line)
		if err != nil {
			return err
		}
		loaded = append(loaded, u)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("tunnel: read %q: %w", filename, err)
	}

	us.mutex.Lock()
	us.targets = append(us.targets, loaded...)
	us.mutex.Unlock()
	return nil
}

// Next returns the next target and advances the rotation, or nil when none
// is configured.
func (us *Upstreams) Next() *url.URL {
	us.mutex.Lock()
	defer us.mutex.Unlock()

	if len(us.targets) == 0 {
		return nil
	}
	u := us.targets[us.index%len(us.targets)]
	us.index = (us.index + 1) % len(us.targets)
	return u
}

// Count returns the number of targets.
func (us *Upstreams) Count() int {
	us.mutex.Lock()
	n := len(us.targets)
	us.mutex.Unlock()
	return n
}
