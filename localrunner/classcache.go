package localrunner

import (
	"sync"

	"github.com/tensorlake/sdk-go/registry"
	"github.com/tensorlake/sdk-go/sdkerrors"
)

// classCache lazily constructs one singleton instance per class name,
// serializing concurrent first callers onto the same construction:
// construction per class is mutually exclusive, since a user constructor
// may take seconds; the per-class sync.Once means classes with no
// outstanding construction never contend with each other.
type classCache struct {
	mu    sync.Mutex
	cells map[string]*classCell
}

type classCell struct {
	once     sync.Once
	instance any
	err      error
}

func newClassCache() classCache {
	return classCache{cells: map[string]*classCell{}}
}

// instanceFor returns className's cached instance, constructing it on the
// first call. Concurrent callers for the *same* class block on that
// class's own sync.Once; callers for different classes never contend.
func (c *classCache) instanceFor(className string) (any, error) {
	c.mu.Lock()
	cell, ok := c.cells[className]
	if !ok {
		cell = &classCell{}
		c.cells[className] = cell
	}
	c.mu.Unlock()

	cell.once.Do(func() {
		desc, ok := registry.GetClass(className)
		if !ok {
			cell.err = sdkerrors.NewUsageError("localrunner: class %q has no registered constructor", className)
			return
		}
		cell.instance, cell.err = desc.New()
	})
	return cell.instance, cell.err
}
