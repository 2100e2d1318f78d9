// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gitinfo probes git metadata for session working directories,
// with a TTL cache so the watcher never shells out on every transcript
// change.
package gitinfo

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Info is the cached git metadata for one directory.
type Info struct {
	Branch  string
	RepoURL string
	RepoID  string
}

const (
	// CommandTimeout bounds each git invocation.
	CommandTimeout = 15 * time.Second
	// TTL for positive results.
	TTL = 5 * time.Minute
	// NegativeTTL for directories that are not git repos.
	NegativeTTL = 30 * time.Second
	// MaxEntries bounds the cache; eviction is LRU by last access.
	MaxEntries = 256
)

// Runner executes a git command in dir and returns trimmed stdout.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

type entry struct {
	info       Info
	ok         bool
	fetchedAt  time.Time
	lastAccess time.Time
}

// Cache is a TTL+LRU cache over git probes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	run     Runner
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry), run: execGit, now: time.Now}
}

// NewCacheWithRunner is for tests.
func NewCacheWithRunner(run Runner) *Cache {
	return &Cache{entries: make(map[string]*entry), run: run, now: time.Now}
}

// Lookup returns git metadata for cwd. The second return is false when the
// directory is not a git repository or every probe failed.
func (c *Cache) Lookup(ctx context.Context, cwd string) (Info, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[cwd]; ok {
		ttl := TTL
		if !e.ok {
			ttl = NegativeTTL
		}
		if now.Sub(e.fetchedAt) < ttl {
			e.lastAccess = now
			info, found := e.info, e.ok
			c.mu.Unlock()
			return info, found
		}
	}
	c.mu.Unlock()

	info, ok := c.probe(ctx, cwd)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cwd] = &entry{info: info, ok: ok, fetchedAt: now, lastAccess: now}
	c.evict()
	return info, ok
}

func (c *Cache) probe(ctx context.Context, cwd string) (Info, bool) {
	branch, err := c.run(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Info{}, false
	}
	info := Info{Branch: branch}
	if url, err := c.run(ctx, cwd, "remote", "get-url", "origin"); err == nil {
		info.RepoURL = url
		info.RepoID = RepoIDFromURL(url)
	}
	return info, true
}

// evict drops least-recently-accessed entries beyond MaxEntries. Caller
// holds the lock.
func (c *Cache) evict() {
	for len(c.entries) > MaxEntries {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.lastAccess.Before(oldestAt) {
				oldest = k
				oldestAt = e.lastAccess
			}
		}
		delete(c.entries, oldest)
	}
}

// RepoIDFromURL normalizes a remote URL to a stable host/owner/name id.
// "git@github.com:org/repo.git" and "https://github.com/org/repo" both map
// to "github.com/org/repo".
func RepoIDFromURL(url string) string {
	id := strings.TrimSpace(url)
	id = strings.TrimSuffix(id, ".git")
	if after, ok := strings.CutPrefix(id, "git@"); ok {
		id = strings.Replace(after, ":", "/", 1)
	} else {
		for _, scheme := range []string{"https://", "http://", "ssh://git@", "ssh://"} {
			if after, ok := strings.CutPrefix(id, scheme); ok {
				id = after
				break
			}
		}
	}
	return strings.TrimSuffix(id, "/")
}
