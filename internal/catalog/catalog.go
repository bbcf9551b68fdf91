// Package catalog manages the YAML video catalog: durations and the fixed
// valence/arousal label of every stimulus video.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultDurationMS is used for videos without a known duration.
const DefaultDurationMS int64 = 150000

// ErrUnknownVideo is returned for ids missing from the catalog.
var ErrUnknownVideo = errors.New("unknown video")

// Video describes one stimulus video.
type Video struct {
	ID         int    `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	DurationMS int64  `yaml:"duration_ms" json:"duration_ms"`
	Valence    int    `yaml:"valence" json:"valence"`
	Arousal    int    `yaml:"arousal" json:"arousal"`
	Profiling  bool   `yaml:"profiling" json:"profiling"`
}

// Config is the top-level YAML structure.
type Config struct {
	Videos []Video `yaml:"videos"`
}

// Catalog holds loaded videos, keyed by id.
type Catalog struct {
	byID  map[int]*Video
	order []int // preserves definition order
}

// Builtin returns the catalog used when no file is configured.
func Builtin() *Catalog {
	c, _ := New(
		Video{ID: 1, Name: "video_1", DurationMS: 180000, Valence: 1, Arousal: 1, Profiling: true},
		Video{ID: 2, Name: "video_2", DurationMS: 151000, Valence: 0, Arousal: 1},
		Video{ID: 3, Name: "video_3", DurationMS: 160000, Valence: 0, Arousal: 0},
		Video{ID: 4, Name: "video_4", DurationMS: 117000, Valence: 1, Arousal: 0},
		Video{ID: 5, Name: "video_5", Valence: 1, Arousal: 0},
		Video{ID: 6, Name: "video_6", Valence: 1, Arousal: 0},
		Video{ID: 7, Name: "video_7", Valence: 0, Arousal: 1},
		Video{ID: 8, Name: "video_8", Valence: 0, Arousal: 1},
	)
	return c
}

// Load reads the YAML file at path and returns a Catalog.
// If the file does not exist, Load returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Builtin(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return New(cfg.Videos...)
}

// New builds a catalog from explicit videos.
func New(videos ...Video) (*Catalog, error) {
	c := &Catalog{byID: make(map[int]*Video, len(videos))}
	for i := range videos {
		v := videos[i]
		if v.ID <= 0 {
			return nil, fmt.Errorf("video %q: id must be positive", v.Name)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("video %d defined twice", v.ID)
		}
		if !binary(v.Valence) || !binary(v.Arousal) {
			return nil, fmt.Errorf("video %d: valence and arousal must be 0 or 1", v.ID)
		}
		if v.DurationMS <= 0 {
			v.DurationMS = DefaultDurationMS
		}
		c.byID[v.ID] = &v
		c.order = append(c.order, v.ID)
	}
	return c, nil
}

func binary(n int) bool { return n == 0 || n == 1 }

// Get returns a video by id. Returns (nil, false) if not found.
func (c *Catalog) Get(id int) (*Video, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// All returns all videos in definition order.
func (c *Catalog) All() []*Video {
	result := make([]*Video, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.byID[id])
	}
	return result
}

// IDs returns the sorted video ids.
func (c *Catalog) IDs() []int {
	ids := make([]int, len(c.order))
	copy(ids, c.order)
	sort.Ints(ids)
	return ids
}

// Duration returns a video's duration in milliseconds, or the default for
// unknown ids.
func (c *Catalog) Duration(id int) int64 {
	if v, ok := c.byID[id]; ok {
		return v.DurationMS
	}
	return DefaultDurationMS
}

// Label returns the fixed (valence, arousal) pair of a video.
func (c *Catalog) Label(id int) (valence, arousal int, err error) {
	v, ok := c.byID[id]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnknownVideo, id)
	}
	return v.Valence, v.Arousal, nil
}

// IsProfiling reports whether id is a calibration video.
func (c *Catalog) IsProfiling(id int) bool {
	v, ok := c.byID[id]
	return ok && v.Profiling
}

// WithProfiling returns a copy in which id is the only calibration video.
// Ids missing from the catalog leave it without one.
func (c *Catalog) WithProfiling(id int) *Catalog {
	out := &Catalog{byID: make(map[int]*Video, len(c.byID)), order: append([]int(nil), c.order...)}
	for vid, v := range c.byID {
		cp := *v
		cp.Profiling = vid == id
		out.byID[vid] = &cp
	}
	return out
}
