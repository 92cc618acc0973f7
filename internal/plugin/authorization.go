package plugin

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/bridgeerr"
)

// Origin identifies where an invocation came from. An empty URL means the
// content was served by the application itself.
type Origin struct {
	Window string
	URL    string
}

// IsLocal reports whether the origin is application content
func (o Origin) IsLocal() bool {
	return o.URL == ""
}

// RemoteScope lists the remote URLs a capability applies to
type RemoteScope struct {
	URLs []string `json:"urls"`
}

// Capability grants permissions to a set of windows
type Capability struct {
	Identifier  string       `json:"identifier"`
	Description string       `json:"description,omitempty"`
	Windows     []string     `json:"windows"`
	Remote      *RemoteScope `json:"remote,omitempty"`
	Local       *bool        `json:"local,omitempty"` // defaults to true
	Permissions []string     `json:"permissions"`
	Denied      []string     `json:"denied,omitempty"`
}

// Validate checks that the capability is usable
func (c Capability) Validate() error {
	if c.Identifier == "" {
		return fmt.Errorf("capability identifier is required")
	}
	if len(c.Windows) == 0 {
		return fmt.Errorf("capability %s applies to no windows", c.Identifier)
	}
	for _, p := range append(slices.Clone(c.Windows), c.Permissions...) {
		if p == "" {
			return fmt.Errorf("capability %s contains an empty entry", c.Identifier)
		}
	}
	return nil
}

func (c Capability) allowsLocal() bool {
	return c.Local == nil || *c.Local
}

// appliesTo reports whether the capability covers origin
func (c Capability) appliesTo(origin Origin) bool {
	if !slices.ContainsFunc(c.Windows, func(p string) bool { return globMatch(p, origin.Window) }) {
		return false
	}
	if origin.IsLocal() {
		return c.allowsLocal()
	}
	if c.Remote == nil {
		return false
	}
	return slices.ContainsFunc(c.Remote.URLs, func(p string) bool { return globMatch(p, origin.URL) })
}

// Authority decides whether an origin may use a permission.
// Denials in any matching capability win over grants.
type Authority struct {
	mu           sync.RWMutex
	capabilities []Capability
}

// NewAuthority creates an authority from capabilities
func NewAuthority(capabilities ...Capability) (*Authority, error) {
	a := &Authority{}
	if err := a.Replace(capabilities); err != nil {
		return nil, err
	}
	return a, nil
}

// Replace swaps the capability set atomically
func (a *Authority) Replace(capabilities []Capability) error {
	seen := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Identifier] {
			return fmt.Errorf("duplicate capability %s", c.Identifier)
		}
		seen[c.Identifier] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.capabilities = slices.Clone(capabilities)
	return nil
}

// Authorize returns an unauthorized error unless origin holds permission.
// An empty permission is always allowed.
func (a *Authority) Authorize(origin Origin, permission string) error {
	if permission == "" {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	granted := false
	for _, c := range a.capabilities {
		if !c.appliesTo(origin) {
			continue
		}
		if slices.ContainsFunc(c.Denied, func(p string) bool { return globMatch(p, permission) }) {
			return bridgeerr.New(bridgeerr.CodeUnauthorized,
				fmt.Sprintf("permission %s denied on window %s by capability %s", permission, origin.Window, c.Identifier))
		}
		if slices.ContainsFunc(c.Permissions, func(p string) bool { return globMatch(p, permission) }) {
			granted = true
		}
	}

	if !granted {
		return bridgeerr.New(bridgeerr.CodeUnauthorized,
			fmt.Sprintf("permission %s not allowed on window %s", permission, origin.Window))
	}
	return nil
}

var globCache sync.Map // pattern -> *regexp.Regexp

// globMatch matches s against a pattern where '*' matches any run of
// characters, including '/' and ':'.
func globMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
	globCache.Store(pattern, re)
	return re.MatchString(s)
}
