package media

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Open a source based on its "source spec". A source spec is a colon-separated string
// consisting of a source tag and a source path:
//    sourceSpec = sourceTag + ":" + sourcePath
// The format of the source path is defined by the registered OpenFunc.
func OpenSource(spec string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	// Log known source types, for debug purposes.
	log.Debug("Registered source types: %v", registeredTags())

	// Split the spec string into tag and path
	tag, path, _ := strings.Cut(spec, ":")

	if open, found := registry[tag]; found {
		src, err := open(path)
		return src, errors.Wrapf(err, "open %s source", tag)
	}
	return nil, errors.Wrapf(errNotFound, "source type '%s'", tag)
}

// A function used to open a specific source type.
type OpenFunc func(path string) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// Register a source type, identified by its "source tag". Sources of this type will be
// opened with the given function.
func RegisterSourceType(tag string, open OpenFunc) {
	registryMu.Lock()
	registry[tag] = open
	registryMu.Unlock()
}

// SourceTypes returns the registered source tags in sorted order.
func SourceTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registeredTags()
}

func registeredTags() []string {
	var tags []string
	for t := range registry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
