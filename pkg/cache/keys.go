package cache

// RenderKeyOpts holds the options that change a render's output bytes.
type RenderKeyOpts struct {
	Format string `json:"format"`
	DPI    int    `json:"dpi,omitempty"`
}

// Keyer generates cache keys for rendered artifacts.
type Keyer interface {
	// RenderKey returns the key for a compiled and rasterized document.
	RenderKey(docHash string, opts RenderKeyOpts) string

	// DotKey returns the key for a graphviz render of a DOT source.
	DotKey(sourceHash string, opts RenderKeyOpts) string
}

// DefaultKeyer hashes the artifact hash together with its options.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// RenderKey implements Keyer.
func (DefaultKeyer) RenderKey(docHash string, opts RenderKeyOpts) string {
	return hashKey("render", docHash, opts)
}

// DotKey implements Keyer.
func (DefaultKeyer) DotKey(sourceHash string, opts RenderKeyOpts) string {
	return hashKey("dot", sourceHash, opts)
}

// ScopedKeyer wraps a Keyer with a prefix. The server uses it to namespace
// keys in a Redis instance shared with other applications.
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// RenderKey generates a prefixed render key.
func (k *ScopedKeyer) RenderKey(docHash string, opts RenderKeyOpts) string {
	return k.prefix + k.inner.RenderKey(docHash, opts)
}

// DotKey generates a prefixed DOT key.
func (k *ScopedKeyer) DotKey(sourceHash string, opts RenderKeyOpts) string {
	return k.prefix + k.inner.DotKey(sourceHash, opts)
}
