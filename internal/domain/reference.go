package domain

import (
	"fmt"
)

// skipMarker is the sentinel stored in deliberately empty cells.
// It is distinct from nil so that legitimate nil values survive round-trips.
type skipMarker struct{}

// Skip is the singleton skip marker. Cells holding Skip participate in
// shape but are excluded from aggregate operations when requested.
var Skip = skipMarker{}

func (skipMarker) String() string { return "<skip>" }

// IsSkip reports whether a cell value is the skip marker.
func IsSkip(v any) bool {
	_, ok := v.(skipMarker)
	return ok
}

// Reference is an N-dimensional array of values over named axes.
// The tensor is stored as nested []any slices; nesting deeper than the
// number of axes is treated as value structure, not extra dimensions.
//
// Every fallible operation takes a devMode flag: with dev mode on a
// failing operation raises, with it off the failure degrades to Skip
// markers in the affected cells and the operation reports success.
type Reference struct {
	tensor []any
	axes   []string
	shape  []int
}

// NewReference builds a Reference from nested data and optional axis names.
// Non-list data is promoted to a single-element list. When axisNames is nil,
// axes are generated as dim_0..dim_{n-1} from the derived shape. Axis names
// must be unique. With dev mode off, an invalid construction yields a
// skip-filled Reference of the derived shape instead of an error.
func NewReference(data any, axisNames []string, devMode bool) (*Reference, error) {
	tensor, ok := data.([]any)
	if !ok {
		tensor = []any{data}
	}

	fail := func(err error) (*Reference, error) {
		if devMode {
			return nil, err
		}
		shape := deriveShape(tensor, -1)
		return SkipFilled(shape, generatedAxes(len(shape))), nil
	}

	var shape []int
	if axisNames == nil {
		shape = deriveShape(tensor, -1)
		axisNames = generatedAxes(len(shape))
	} else {
		shape = deriveShape(tensor, len(axisNames))
		if len(shape) < len(axisNames) {
			return fail(NewDomainError(ErrCodeInvalidInput,
				fmt.Sprintf("data has %d dimensions but %d axis names given", len(shape), len(axisNames)), nil))
		}
	}

	seen := make(map[string]struct{}, len(axisNames))
	for _, name := range axisNames {
		if _, dup := seen[name]; dup {
			return fail(NewDomainError(ErrCodeInvalidInput,
				fmt.Sprintf("duplicate axis name %q", name), nil))
		}
		seen[name] = struct{}{}
	}

	axes := make([]string, len(axisNames))
	copy(axes, axisNames)

	return &Reference{tensor: deepCopySlice(tensor), axes: axes, shape: shape}, nil
}

// SkipFilled builds a Reference of the given shape whose cells are all Skip.
// It is the degraded result of failing operations with dev mode off.
func SkipFilled(shape []int, axes []string) *Reference {
	s := shape
	if len(s) == 0 {
		s = []int{1}
	}
	var build func(dims []int) []any
	build = func(dims []int) []any {
		out := make([]any, dims[0])
		for i := range out {
			if len(dims) == 1 {
				out[i] = Skip
			} else {
				out[i] = build(dims[1:])
			}
		}
		return out
	}
	return &Reference{tensor: build(s), axes: append([]string(nil), axes...), shape: append([]int(nil), s...)}
}

func generatedAxes(n int) []string {
	axes := make([]string, n)
	for i := range axes {
		axes[i] = fmt.Sprintf("dim_%d", i)
	}
	return axes
}

// deriveShape walks the nested slices. maxDepth bounds the number of
// dimensions taken (axis count); -1 means follow the nesting all the way
// down the first spine.
func deriveShape(tensor []any, maxDepth int) []int {
	shape := []int{len(tensor)}
	cur := tensor
	for maxDepth < 0 || len(shape) < maxDepth {
		if len(cur) == 0 {
			break
		}
		next, ok := cur[0].([]any)
		if !ok {
			break
		}
		shape = append(shape, len(next))
		cur = next
	}
	return shape
}

func deepCopySlice(src []any) []any {
	out := make([]any, len(src))
	for i, v := range src {
		if nested, ok := v.([]any); ok {
			out[i] = deepCopySlice(nested)
		} else {
			out[i] = v
		}
	}
	return out
}

// Tensor returns the nested cell data. Callers must not mutate it.
func (r *Reference) Tensor() []any { return r.tensor }

// Axes returns the ordered axis names.
func (r *Reference) Axes() []string { return r.axes }

// Shape returns the extent of each axis.
func (r *Reference) Shape() []int { return r.shape }

// AxisIndex returns the position of the named axis, or -1.
func (r *Reference) AxisIndex(name string) int {
	for i, a := range r.axes {
		if a == name {
			return i
		}
	}
	return -1
}

// Copy returns a deep copy of the Reference.
func (r *Reference) Copy() *Reference {
	return &Reference{
		tensor: deepCopySlice(r.tensor),
		axes:   append([]string(nil), r.axes...),
		shape:  append([]int(nil), r.shape...),
	}
}

// At reads the cell addressed by axis-keyed indices. Every axis of the
// Reference must be keyed. With dev mode off, a bad address reads as a
// Skip marker.
func (r *Reference) At(keys map[string]int, devMode bool) (any, error) {
	fail := func(err error) (any, error) {
		if devMode {
			return nil, err
		}
		return Skip, nil
	}
	idx, err := r.resolveIndices(keys)
	if err != nil {
		return fail(err)
	}
	cur := any(r.tensor)
	for d, i := range idx {
		slice, ok := cur.([]any)
		if !ok || i < 0 || i >= len(slice) {
			return fail(NewDomainError(ErrCodeInvalidInput,
				fmt.Sprintf("index %d out of range on axis %q", i, r.axes[d]), nil))
		}
		cur = slice[i]
	}
	return cur, nil
}

// Set writes the cell addressed by axis-keyed indices. With dev mode
// off, a bad address leaves the tensor untouched and reports success.
func (r *Reference) Set(keys map[string]int, value any, devMode bool) error {
	fail := func(err error) error {
		if devMode {
			return err
		}
		return nil
	}
	idx, err := r.resolveIndices(keys)
	if err != nil {
		return fail(err)
	}
	cur := r.tensor
	for d := 0; d < len(idx)-1; d++ {
		i := idx[d]
		if i < 0 || i >= len(cur) {
			return fail(NewDomainError(ErrCodeInvalidInput,
				fmt.Sprintf("index %d out of range on axis %q", i, r.axes[d]), nil))
		}
		next, ok := cur[i].([]any)
		if !ok {
			return fail(NewDomainError(ErrCodeInvalidState,
				fmt.Sprintf("tensor is shallower than axis count at axis %q", r.axes[d]), nil))
		}
		cur = next
	}
	last := idx[len(idx)-1]
	if last < 0 || last >= len(cur) {
		return fail(NewDomainError(ErrCodeInvalidInput,
			fmt.Sprintf("index %d out of range on axis %q", last, r.axes[len(idx)-1]), nil))
	}
	cur[last] = value
	return nil
}

func (r *Reference) resolveIndices(keys map[string]int) ([]int, error) {
	if len(keys) != len(r.axes) {
		return nil, NewDomainError(ErrCodeInvalidInput,
			fmt.Sprintf("expected %d axis keys, got %d", len(r.axes), len(keys)), nil)
	}
	idx := make([]int, len(r.axes))
	for d, a := range r.axes {
		i, ok := keys[a]
		if !ok {
			return nil, NewDomainError(ErrCodeInvalidInput,
				fmt.Sprintf("missing key for axis %q", a), nil)
		}
		idx[d] = i
	}
	return idx, nil
}

// crossLayout is the merged axis/shape layout of a cross product: this
// Reference's axes followed by the other's unshared axes.
func (r *Reference) crossLayout(other *Reference) ([]string, []int, map[string]struct{}) {
	shared := make(map[string]struct{})
	for _, a := range r.axes {
		if other.AxisIndex(a) >= 0 {
			shared[a] = struct{}{}
		}
	}
	axes := append([]string(nil), r.axes...)
	shape := append([]int(nil), r.shape...)
	for i, a := range other.axes {
		if _, ok := shared[a]; !ok {
			axes = append(axes, a)
			shape = append(shape, other.shape[i])
		}
	}
	return axes, shape, shared
}

// Cross aligns two References on their shared axes and takes the outer
// product over the disjoint ones. Each result cell is a two-element pair
// [left, right]; a Skip on either side yields a Skip cell. With dev mode
// off, a shared-axis extent mismatch yields a fully skip-filled result.
func (r *Reference) Cross(other *Reference, devMode bool) (*Reference, error) {
	axes, shape, shared := r.crossLayout(other)

	for a := range shared {
		li, ri := r.AxisIndex(a), other.AxisIndex(a)
		if r.shape[li] != other.shape[ri] {
			if devMode {
				return nil, NewDomainError(ErrCodeInvalidInput,
					fmt.Sprintf("shared axis %q has extents %d and %d", a, r.shape[li], other.shape[ri]), nil)
			}
			return SkipFilled(shape, axes), nil
		}
	}

	out := SkipFilled(shape, axes)
	idx := make([]int, len(shape))
	var walk func(d int) error
	walk = func(d int) error {
		if d == len(shape) {
			keys := make(map[string]int, len(axes))
			for i, a := range axes {
				keys[a] = idx[i]
			}
			lk := make(map[string]int, len(r.axes))
			for _, a := range r.axes {
				lk[a] = keys[a]
			}
			rk := make(map[string]int, len(other.axes))
			for _, a := range other.axes {
				rk[a] = keys[a]
			}
			lv, err := r.At(lk, devMode)
			if err != nil {
				return err
			}
			rv, err := other.At(rk, devMode)
			if err != nil {
				return err
			}
			var cell any
			if IsSkip(lv) || IsSkip(rv) {
				cell = Skip
			} else {
				cell = []any{lv, rv}
			}
			return out.Set(keys, cell, devMode)
		}
		for i := 0; i < shape[d]; i++ {
			idx[d] = i
			if err := walk(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return out, nil
}

// Filter keeps only the positions of the named axis where mask is true.
// The mask length must equal the axis extent. With dev mode off, an
// unknown axis or mismatched mask yields a skip-filled Reference of the
// original shape.
func (r *Reference) Filter(mask []bool, axis string, devMode bool) (*Reference, error) {
	fail := func(err error) (*Reference, error) {
		if devMode {
			return nil, err
		}
		return SkipFilled(r.shape, r.axes), nil
	}
	d := r.AxisIndex(axis)
	if d < 0 {
		return fail(NewDomainError(ErrCodeNotFound, fmt.Sprintf("axis %q not found", axis), nil))
	}
	if len(mask) != r.shape[d] {
		return fail(NewDomainError(ErrCodeInvalidInput,
			fmt.Sprintf("mask length %d does not match axis %q extent %d", len(mask), axis, r.shape[d]), nil))
	}

	kept := 0
	for _, m := range mask {
		if m {
			kept++
		}
	}

	var filter func(cur []any, depth int) []any
	filter = func(cur []any, depth int) []any {
		if depth == d {
			out := make([]any, 0, kept)
			for i, m := range mask {
				if m {
					out = append(out, cur[i])
				}
			}
			return out
		}
		out := make([]any, len(cur))
		for i, v := range cur {
			nested, ok := v.([]any)
			if !ok {
				out[i] = v
				continue
			}
			out[i] = filter(nested, depth+1)
		}
		return out
	}

	shape := append([]int(nil), r.shape...)
	shape[d] = kept
	return &Reference{
		tensor: filter(deepCopySlice(r.tensor), 0),
		axes:   append([]string(nil), r.axes...),
		shape:  shape,
	}, nil
}

// Flatten collects all cell values in row-major order. With ignoreSkip,
// skip cells are dropped; otherwise they are included as Skip.
func (r *Reference) Flatten(ignoreSkip bool) []any {
	var out []any
	var walk func(cur []any, depth int)
	walk = func(cur []any, depth int) {
		for _, v := range cur {
			if depth+1 < len(r.shape) {
				if nested, ok := v.([]any); ok {
					walk(nested, depth+1)
					continue
				}
			}
			if ignoreSkip && IsSkip(v) {
				continue
			}
			out = append(out, v)
		}
	}
	walk(r.tensor, 0)
	return out
}

// Equal reports deep equality of tensors, axes and shapes.
func (r *Reference) Equal(other *Reference) bool {
	if other == nil {
		return false
	}
	if len(r.axes) != len(other.axes) || len(r.shape) != len(other.shape) {
		return false
	}
	for i := range r.axes {
		if r.axes[i] != other.axes[i] {
			return false
		}
	}
	for i := range r.shape {
		if r.shape[i] != other.shape[i] {
			return false
		}
	}
	return equalCells(r.tensor, other.tensor)
}

func equalCells(a, b any) bool {
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok != bok {
		return false
	}
	if aok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equalCells(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if IsSkip(a) || IsSkip(b) {
		return IsSkip(a) && IsSkip(b)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
