// Package config loads the console file: report templates keyed by id, the
// poll band schedule and the alert summary limit. Connection settings come
// from the environment, not from this file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/pipeconsole/internal/alerts"
	"github.com/animus-labs/pipeconsole/internal/domain"
	"github.com/animus-labs/pipeconsole/internal/poller"
)

// Template is a report layout the operator can start a job from. Templates
// are plain records; Params are merged under the request's own params.
type Template struct {
	ID          string          `yaml:"-" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []string        `yaml:"sections,omitempty" json:"sections,omitempty"`
	Params      domain.Metadata `yaml:"params,omitempty" json:"params,omitempty"`
}

type Polling struct {
	Settle time.Duration `yaml:"settle"`
	Bands  []poller.Band `yaml:"bands"`
}

type File struct {
	AlertLimit int                 `yaml:"alert_limit"`
	Polling    Polling             `yaml:"polling"`
	Templates  map[string]Template `yaml:"templates"`
}

func Default() File {
	return File{
		AlertLimit: alerts.DefaultLimit,
		Polling:    Polling{Settle: 2 * time.Second, Bands: poller.DefaultBands()},
		Templates:  map[string]Template{},
	}
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(raw)
	if err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a console file, rejecting unknown keys, and fills defaults
// for anything omitted.
func Parse(raw []byte) (File, error) {
	f := File{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode: %w", err)
	}

	def := Default()
	if f.AlertLimit == 0 {
		f.AlertLimit = def.AlertLimit
	}
	if f.Polling.Settle == 0 {
		f.Polling.Settle = def.Polling.Settle
	}
	if len(f.Polling.Bands) == 0 {
		f.Polling.Bands = def.Polling.Bands
	}
	if f.Templates == nil {
		f.Templates = map[string]Template{}
	}
	for id, tpl := range f.Templates {
		tpl.ID = id
		if tpl.Name == "" {
			tpl.Name = id
		}
		f.Templates[id] = tpl
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Validate() error {
	if f.AlertLimit < 1 {
		return errors.New("alert_limit must be >= 1")
	}
	if f.Polling.Settle < 0 {
		return errors.New("polling.settle must be >= 0")
	}
	if err := poller.ValidateBands(f.Polling.Bands); err != nil {
		return fmt.Errorf("polling.bands: %w", err)
	}
	for id := range f.Templates {
		if strings.TrimSpace(id) == "" {
			return errors.New("template id must not be blank")
		}
	}
	return nil
}

// Catalog holds the current file and is swapped atomically on reload.
type Catalog struct {
	current atomic.Pointer[File]
}

func NewCatalog(f File) *Catalog {
	c := &Catalog{}
	c.Store(f)
	return c
}

func (c *Catalog) Store(f File) {
	c.current.Store(&f)
}

func (c *Catalog) Current() File {
	if f := c.current.Load(); f != nil {
		return *f
	}
	return Default()
}

func (c *Catalog) Template(id string) (Template, bool) {
	tpl, ok := c.Current().Templates[strings.TrimSpace(id)]
	return tpl, ok
}

// Templates lists templates ordered by id.
func (c *Catalog) Templates() []Template {
	current := c.Current()
	out := make([]Template, 0, len(current.Templates))
	for _, tpl := range current.Templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
