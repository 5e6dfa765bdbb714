package aicode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CodeBlocks is the content-addressable, versioned registry of CodeBlocks
// for one Task. blocks[name] always points to the highest-version instance
// of that name; history records every block ever added, in insertion order,
// and is the basis for checkpoint/restore.
type CodeBlocks struct {
	mu      sync.Mutex
	blocks  map[string]CodeBlock
	history []CodeBlock
}

// NewCodeBlocks returns an empty registry.
func NewCodeBlocks() *CodeBlocks {
	return &CodeBlocks{blocks: make(map[string]CodeBlock)}
}

// AddBlocks inserts each block, rejecting any whose version does not
// advance past the currently registered one for that name. Blocks with a
// non-empty Path are persisted to disk. Returns one error per rejected
// block (nil entries for accepted ones), preserving input order.
func (c *CodeBlocks) AddBlocks(blocks []CodeBlock) []error {
	errs := make([]error, len(blocks))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range blocks {
		if existing, ok := c.blocks[b.Name]; ok && existing.Version >= b.Version {
			errs[i] = fmt.Errorf("duplicate code name with same or newer version: %s", b.Name)
			continue
		}
		c.history = append(c.history, b)
		c.blocks[b.Name] = b
		if b.Path != "" {
			if err := persistBlock(b); err != nil {
				errs[i] = err
			}
		}
	}
	return errs
}

// Get returns the latest version of the named block.
func (c *CodeBlocks) Get(name string) (CodeBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[name]
	return b, ok
}

// EditBlock applies a substring replacement to the named block's code,
// producing a new version. old must appear exactly once unless replaceAll
// is set, in which case every occurrence is replaced.
func (c *CodeBlocks) EditBlock(name, old, new string, replaceAll bool) (CodeBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.blocks[name]
	if !ok {
		return CodeBlock{}, fmt.Errorf("code block not found: %s", name)
	}
	count := strings.Count(cur.Code, old)
	if count == 0 {
		return CodeBlock{}, fmt.Errorf("old text not found in block %q", name)
	}
	if count > 1 && !replaceAll {
		return CodeBlock{}, fmt.Errorf("ambiguous replacement in block %q (%d matches); pass replace_all", name, count)
	}

	var code string
	if replaceAll {
		code = strings.ReplaceAll(cur.Code, old, new)
	} else {
		code = strings.Replace(cur.Code, old, new, 1)
	}

	next := CodeBlock{
		Name:    name,
		Version: cur.Version + 1,
		Lang:    cur.Lang,
		Code:    code,
		Path:    cur.Path,
		Deps:    cloneDeps(cur.Deps),
	}
	if next.Path != "" {
		if err := persistBlock(next); err != nil {
			return CodeBlock{}, err
		}
	}
	c.history = append(c.history, next)
	c.blocks[name] = next
	return next, nil
}

// Checkpoint returns an opaque token (the current history length) suitable
// for a later RestoreToCheckpoint call.
func (c *CodeBlocks) Checkpoint() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// RestoreToCheckpoint truncates history to length k and rebuilds blocks so
// every name again points to its latest surviving version.
func (c *CodeBlocks) RestoreToCheckpoint(k int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k < 0 || k > len(c.history) {
		return fmt.Errorf("invalid checkpoint %d (history length %d)", k, len(c.history))
	}
	c.history = c.history[:k]
	c.blocks = make(map[string]CodeBlock, len(c.blocks))
	for _, b := range c.history {
		c.blocks[b.Name] = b
	}
	return nil
}

// History returns a copy of every block ever added, in insertion order.
func (c *CodeBlocks) History() []CodeBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CodeBlock, len(c.history))
	copy(out, c.history)
	return out
}

// RestoreState rebuilds the registry wholesale from a persisted history
// (component J: Task.restore_state). It does not re-persist blocks to disk.
func (c *CodeBlocks) RestoreState(history []CodeBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]CodeBlock(nil), history...)
	c.blocks = make(map[string]CodeBlock, len(history))
	for _, b := range c.history {
		c.blocks[b.Name] = b
	}
}

func cloneDeps(deps map[string][]string) map[string][]string {
	if deps == nil {
		return nil
	}
	out := make(map[string][]string, len(deps))
	for k, v := range deps {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// persistBlock writes a block with a non-empty Path to disk, creating parent
// directories as needed. Last writer wins when two blocks share a path.
func persistBlock(b CodeBlock) error {
	dir := filepath.Dir(b.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("persist block %q: %w", b.Name, err)
		}
	}
	if err := os.WriteFile(b.Path, []byte(b.Code), 0o640); err != nil {
		return fmt.Errorf("persist block %q: %w", b.Name, err)
	}
	return nil
}
