package avcodec

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	providerMu    sync.Mutex
	providerOpen  = map[string]func() (Provider, error){}
	providerCache = map[string]Provider{}
)

// RegisterProvider makes a codec provider available under name.
func RegisterProvider(name string, open func() (Provider, error)) {
	providerMu.Lock()
	providerOpen[name] = open
	delete(providerCache, name)
	providerMu.Unlock()
}

// OpenProvider returns the named provider, opening it on first use.
func OpenProvider(name string) (Provider, error) {
	providerMu.Lock()
	defer providerMu.Unlock()
	if p, ok := providerCache[name]; ok {
		return p, nil
	}
	open, ok := providerOpen[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoProvider, "%q (have %v)", name, providerNamesLocked())
	}
	p, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "open codec provider %q", name)
	}
	log.Debug("Opened codec provider %s", name)
	providerCache[name] = p
	return p, nil
}

func Providers() []string {
	providerMu.Lock()
	defer providerMu.Unlock()
	return providerNamesLocked()
}

func providerNamesLocked() []string {
	var names []string
	for n := range providerOpen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
