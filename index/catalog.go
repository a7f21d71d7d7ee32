package index

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/storage"
	"github.com/diagon-project/diagon/store"
)

// Catalog tracks the published segments of one directory, hands out reader
// handles, and feeds access statistics to the tier controller.
type Catalog struct {
	dir   store.Directory
	tiers *storage.TierManager

	mu       sync.RWMutex
	segments map[string]*SegmentReader
}

// NewCatalog creates an empty catalog. The tier manager may be nil when
// lifecycle tracking is not wanted.
func NewCatalog(dir store.Directory, tiers *storage.TierManager) *Catalog {
	return &Catalog{dir: dir, tiers: tiers, segments: make(map[string]*SegmentReader)}
}

// Register opens a committed segment and registers it with the tier
// controller at HOT. Registration is the publish step: a segment the
// catalog does not know is invisible to queries.
func (c *Catalog) Register(segment string) (*SegmentReader, error) {
	reader, err := OpenSegmentReader(c.dir, segment)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.segments[segment]; ok {
		c.mu.Unlock()
		_ = reader.Close()
		return nil, fmt.Errorf("index: segment %q already registered: %w", segment, diagon.ErrInvalidInput)
	}
	c.segments[segment] = reader
	c.mu.Unlock()

	if c.tiers != nil {
		size, err := SizeBytes(c.dir, segment)
		if err != nil {
			size = 0
		}
		c.tiers.Register(segment, size)
	}
	return reader, nil
}

// RegisterAll opens and registers several segments concurrently.
func (c *Catalog) RegisterAll(segments []string) error {
	var g errgroup.Group
	for _, segment := range segments {
		g.Go(func() error {
			_, err := c.Register(segment)
			return err
		})
	}
	return g.Wait()
}

// Segment resolves a registered segment and records the access.
func (c *Catalog) Segment(name string) (*SegmentReader, error) {
	c.mu.RLock()
	reader, ok := c.segments[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("index: segment %q: %w", name, diagon.ErrNotFound)
	}
	if c.tiers != nil {
		c.tiers.RecordAccess(name)
	}
	return reader, nil
}

// SearchableSegments lists registered segments currently in searchable
// tiers; without a tier manager every registered segment qualifies.
func (c *Catalog) SearchableSegments() []string {
	if c.tiers != nil {
		return c.tiers.SegmentsInTiers(c.tiers.SearchableTiers())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.segments))
	for name := range c.segments {
		out = append(out, name)
	}
	return out
}

// AllSegments lists every registered segment name.
func (c *Catalog) AllSegments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.segments))
	for name := range c.segments {
		out = append(out, name)
	}
	return out
}

// Drop closes and forgets a segment.
func (c *Catalog) Drop(name string) error {
	c.mu.Lock()
	reader, ok := c.segments[name]
	delete(c.segments, name)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("index: segment %q: %w", name, diagon.ErrNotFound)
	}
	if c.tiers != nil {
		_ = c.tiers.Delete(name)
	}
	return reader.Close()
}

// Close releases every registered segment.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs error
	for _, reader := range c.segments {
		errs = multierr.Append(errs, reader.Close())
	}
	c.segments = make(map[string]*SegmentReader)
	return errs
}
