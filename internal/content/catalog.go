// Package content is the key→content catalog behind the scheduler. It
// resolves stitch metadata for fresh tube assignment and serves the practice
// items of a stitch to the CLI. Scheduling never reads it.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/triplehelix/internal/spacedrep"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// CatalogVersion is the only catalog file version understood.
const CatalogVersion = 1

// MaxCatalogSize bounds catalog files read from disk.
const MaxCatalogSize = 4 << 20

// ErrUnknownStitch is returned when a stitch id is not in the catalog.
var ErrUnknownStitch = errors.New("unknown stitch")

// Item is one practice question.
type Item struct {
	Prompt string `yaml:"prompt" validate:"required"`
	Answer string `yaml:"answer" validate:"required"`
}

// Stitch is the content behind a stitch id.
type Stitch struct {
	ID    string `yaml:"id" validate:"required"`
	Title string `yaml:"title" validate:"required"`
	Items []Item `yaml:"items" validate:"min=1,dive"`
}

// Thread is an ordered stream of stitches bound to one tube.
type Thread struct {
	ID       string   `yaml:"id" validate:"required"`
	Tube     int      `yaml:"tube" validate:"min=1,max=3"`
	Title    string   `yaml:"title"`
	Stitches []Stitch `yaml:"stitches" validate:"dive"`
}

type catalogFile struct {
	Version int      `yaml:"version"`
	Threads []Thread `yaml:"threads" validate:"len=3,dive"`
}

type entry struct {
	stitch Stitch
	thread *Thread
	order  int
}

// Catalog is a parsed, validated content catalog. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	threads [spacedrep.NumTubes]Thread
	byID    map[string]entry
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	if info.Size() > MaxCatalogSize {
		return nil, fmt.Errorf("catalog too large: %d bytes (max %d)", info.Size(), MaxCatalogSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Every tube must be claimed by
// exactly one thread and every stitch id must be unique across threads.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	if f.Version != CatalogVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", f.Version)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]entry)}
	var claimed [spacedrep.NumTubes]bool
	for _, th := range f.Threads {
		idx := th.Tube - 1
		if claimed[idx] {
			return nil, fmt.Errorf("invalid catalog: tube %d claimed by more than one thread", th.Tube)
		}
		claimed[idx] = true
		c.threads[idx] = th
	}
	for i := range c.threads {
		th := &c.threads[i]
		for order, s := range th.Stitches {
			if prev, dup := c.byID[s.ID]; dup {
				return nil, fmt.Errorf("invalid catalog: stitch %q in threads %q and %q", s.ID, prev.thread.ID, th.ID)
			}
			c.byID[s.ID] = entry{stitch: s, thread: th, order: order}
		}
	}
	return c, nil
}

// Stitch returns the content of a stitch.
func (c *Catalog) Stitch(id string) (Stitch, error) {
	e, ok := c.byID[id]
	if !ok {
		return Stitch{}, fmt.Errorf("%w: %q", ErrUnknownStitch, id)
	}
	return e.stitch, nil
}

// Thread returns the thread bound to tube n.
func (c *Catalog) Thread(n spacedrep.TubeNumber) (Thread, bool) {
	if !n.Valid() {
		return Thread{}, false
	}
	return c.threads[n-1], true
}

// Len returns the number of stitches in the catalog.
func (c *Catalog) Len() int { return len(c.byID) }

// Correct reports whether given matches the item answer, ignoring
// surrounding whitespace and case.
func (it Item) Correct(given string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(it.Answer))
}
