// Package manifest parses Arweave path manifests and resolves the
// paths inside them to transaction or data item IDs. Parsed documents
// are kept in an LRU and their path tables are backfilled into the
// persistent index so later lookups skip the parse.
package manifest

import (
	"encoding/json"
	"io"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

// ManifestType is the required value of a path manifest's manifest field.
const ManifestType = "arweave/paths"

var (
	// ErrTooLarge is returned when a manifest document exceeds the
	// configured size bound.
	ErrTooLarge = errors.New("manifest too large")
	// ErrTooDeep is returned when a manifest document nests deeper than
	// the configured bound.
	ErrTooDeep = errors.New("manifest nested too deeply")
)

// Manifest is a parsed arweave/paths document.
type Manifest struct {
	// IndexID is the target served for the manifest's root, when given
	// directly.
	IndexID *arweave.ID
	// IndexPath names a paths entry served for the manifest's root,
	// when IndexID is absent.
	IndexPath string
	// Paths maps subpaths to their targets.
	Paths map[string]arweave.ID
}

// Lookup resolves a subpath inside the manifest. The empty subpath
// resolves to the index target, either directly or through the named
// paths entry. Nil means the manifest does not answer the subpath.
func (m *Manifest) Lookup(subpath string) *arweave.ID {
	if subpath == "" {
		if m.IndexID != nil {
			return m.IndexID
		}
		if m.IndexPath != "" {
			if id, ok := m.Paths[m.IndexPath]; ok {
				return &id
			}
		}
		return nil
	}
	if id, ok := m.Paths[subpath]; ok {
		return &id
	}
	return nil
}

// Parse reads one path manifest document from r, enforcing the
// configured size and nesting bounds. The parser walks JSON tokens so
// an oversized or hostile document is rejected without buffering it.
func Parse(r io.Reader) (*Manifest, error) {
	cfg := params.Gateway()
	p := &parser{
		maxDepth: cfg.ManifestMaxDepth,
	}
	p.dec = json.NewDecoder(&boundedReader{r: r, limit: cfg.ManifestMaxSize})
	m, err := p.parse()
	if err != nil {
		parseFailures.Inc()
		return nil, err
	}
	return m, nil
}

// boundedReader fails the stream once more than limit bytes have been
// consumed.
type boundedReader struct {
	r     io.Reader
	limit uint64
	read  uint64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += uint64(n)
	if b.read > b.limit {
		return n, ErrTooLarge
	}
	return n, err
}

type parser struct {
	dec      *json.Decoder
	depth    int
	maxDepth int
}

// token reads the next JSON token, tracking container depth.
func (p *parser) token() (json.Token, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '{', '[':
			p.depth++
			if p.depth > p.maxDepth {
				return nil, errors.Wrapf(ErrTooDeep, "depth %d", p.depth)
			}
		case '}', ']':
			p.depth--
		}
	}
	return tok, nil
}

func (p *parser) expectDelim(want json.Delim) error {
	tok, err := p.token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return errors.Errorf("expected %q, got %v", want.String(), tok)
	}
	return nil
}

func (p *parser) stringToken() (string, error) {
	tok, err := p.token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", errors.Errorf("expected string, got %v", tok)
	}
	return s, nil
}

// skipValue consumes one JSON value of any shape.
func (p *parser) skipValue() error {
	tok, err := p.token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	open := p.depth
	for p.depth >= open {
		if _, err := p.token(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parse() (*Manifest, error) {
	if err := p.expectDelim('{'); err != nil {
		return nil, err
	}
	m := &Manifest{Paths: make(map[string]arweave.ID)}
	for p.dec.More() {
		key, err := p.stringToken()
		if err != nil {
			return nil, err
		}
		switch key {
		case "manifest":
			v, err := p.stringToken()
			if err != nil {
				return nil, err
			}
			if v != ManifestType {
				return nil, errors.Errorf("unsupported manifest type %q", v)
			}
		case "index":
			if err := p.parseIndex(m); err != nil {
				return nil, err
			}
		case "paths":
			if err := p.parsePaths(m); err != nil {
				return nil, err
			}
		default:
			if err := p.skipValue(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.token(); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) parseIndex(m *Manifest) error {
	if err := p.expectDelim('{'); err != nil {
		return err
	}
	for p.dec.More() {
		key, err := p.stringToken()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			raw, err := p.stringToken()
			if err != nil {
				return err
			}
			id, err := arweave.IDFromString(raw)
			if err != nil {
				return errors.Wrap(err, "invalid index id")
			}
			m.IndexID = &id
		case "path":
			raw, err := p.stringToken()
			if err != nil {
				return err
			}
			m.IndexPath = raw
		default:
			if err := p.skipValue(); err != nil {
				return err
			}
		}
	}
	_, err := p.token()
	return err
}

func (p *parser) parsePaths(m *Manifest) error {
	if err := p.expectDelim('{'); err != nil {
		return err
	}
	for p.dec.More() {
		subpath, err := p.stringToken()
		if err != nil {
			return err
		}
		if err := p.parsePathEntry(m, subpath); err != nil {
			return err
		}
	}
	_, err := p.token()
	return err
}

func (p *parser) parsePathEntry(m *Manifest, subpath string) error {
	if err := p.expectDelim('{'); err != nil {
		return err
	}
	for p.dec.More() {
		key, err := p.stringToken()
		if err != nil {
			return err
		}
		if key != "id" {
			if err := p.skipValue(); err != nil {
				return err
			}
			continue
		}
		raw, err := p.stringToken()
		if err != nil {
			return err
		}
		id, err := arweave.IDFromString(raw)
		if err != nil {
			return errors.Wrapf(err, "invalid id for path %q", subpath)
		}
		m.Paths[subpath] = id
	}
	_, err := p.token()
	return err
}
