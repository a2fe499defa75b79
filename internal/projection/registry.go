package projection

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Projector variant tags.
const (
	TagGroundPlane = "ground-plane"
	TagPanoramic   = "panoramic"
)

// Constructor builds a projector for one region.
type Constructor func(env Env, params Params) (Projector, error)

// Registry resolves projector tags to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in variants and their
// legacy aliases.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(TagGroundPlane, newGroundPlane, "groundplane", "birdseye", "birdseyemapper")
	r.Register(TagPanoramic, newPanoramic, "panorama", "panoramamapper")
	return r
}

// Register adds a constructor under tag and any aliases.
func (r *Registry) Register(tag string, ctor Constructor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[normalizeTag(tag)] = ctor
	for _, a := range aliases {
		r.ctors[normalizeTag(a)] = ctor
	}
}

// Lookup finds the constructor for tag. Qualified class names such as
// "VideoMapper$BirdseyeMapper" resolve by their last segment.
func (r *Registry) Lookup(tag string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[normalizeTag(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProjector, tag)
	}
	return ctor, nil
}

// Tags lists the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// RegionSpec is the configured shape of a region before its projector exists.
type RegionSpec struct {
	Name   string
	Tag    string
	Bounds Rect
	Flip   Flip
	Rotate float64
	Mask   *Mask
	Params Params
}

// Build resolves the projector and assembles the region.
func (r *Registry) Build(spec RegionSpec, camera Position) (*Region, error) {
	ctor, err := r.Lookup(spec.Tag)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", spec.Name, err)
	}
	params := spec.Params
	if params == nil {
		params = NoParams{}
	}
	placement := NewPlacement(spec.Bounds, spec.Flip, spec.Rotate)
	p, err := ctor(Env{Region: spec.Name, Placement: placement, Camera: camera}, params)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", spec.Name, err)
	}
	return &Region{Name: spec.Name, Placement: placement, Mask: spec.Mask, Projector: p}, nil
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.LastIndexAny(tag, ".$"); i >= 0 {
		tag = tag[i+1:]
	}
	return strings.ToLower(tag)
}

func newGroundPlane(env Env, params Params) (Projector, error) {
	width, err := params.Float("projection-width", DefaultProjectionWidth)
	if err != nil {
		return nil, err
	}
	return NewGroundPlane(env.Placement, env.Camera, width)
}

func newPanoramic(env Env, params Params) (Projector, error) {
	var a PanoramicAngles
	var err error
	if a.Horizontal, err = params.Float("horizontal-fov", DefaultHorizontalAngle); err != nil {
		return nil, err
	}
	if a.Left, err = params.Float("horizontal-fov-left", -a.Horizontal/2); err != nil {
		return nil, err
	}
	if a.Vertical, err = params.Float("vertical-fov", DefaultVerticalAngle); err != nil {
		return nil, err
	}
	if a.Top, err = params.Float("vertical-fov-top", -a.Vertical/2); err != nil {
		return nil, err
	}
	return NewPanoramic(env.Placement, a)
}
