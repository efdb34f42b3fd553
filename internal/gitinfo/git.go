// Package gitinfo resolves and caches repository metadata for session
// working directories.
package gitinfo

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

type Info struct {
	RepoRoot  string
	Branch    string
	Remote    string
	UpdatedAt time.Time
}

// Resolver looks up git metadata for a directory; nil means not a repo.
type Resolver func(ctx context.Context, cwd string) *Info

type Cache struct {
	cache   map[string]*Info
	mu      sync.RWMutex
	ttl     time.Duration
	resolve Resolver
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		cache:   make(map[string]*Info),
		ttl:     ttl,
		resolve: Resolve,
		now:     time.Now,
	}
}

func (c *Cache) Get(cwd string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.cache[cwd]
	if !ok {
		return nil, false
	}
	if c.now().Sub(info.UpdatedAt) > c.ttl {
		return nil, false
	}
	return info, true
}

func (c *Cache) Set(cwd string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cwd] = info
}

func (c *Cache) Delete(cwd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, cwd)
}

// Lookup returns cached metadata, resolving it on a miss. Directories that
// are not repositories are cached too, as an Info with no RepoRoot.
func (c *Cache) Lookup(ctx context.Context, cwd string) *Info {
	if cwd == "" {
		return nil
	}
	if info, ok := c.Get(cwd); ok {
		if info.RepoRoot == "" {
			return nil
		}
		return info
	}
	info := c.resolve(ctx, cwd)
	if info == nil {
		c.Set(cwd, &Info{UpdatedAt: c.now()})
		return nil
	}
	info.UpdatedAt = c.now()
	c.Set(cwd, info)
	return info
}

// Resolve gets git metadata for a directory.
func Resolve(ctx context.Context, cwd string) *Info {
	root, err := git(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil
	}
	info := &Info{RepoRoot: root, UpdatedAt: time.Now()}

	if branch, err := git(ctx, root, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}
	if remote, err := git(ctx, root, "remote", "get-url", "origin"); err == nil {
		info.Remote = remote
	}
	return info
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
