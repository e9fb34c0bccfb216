// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aggexec

import (
	"context"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
)

// Layout places the states of a list of functions inside one blob.  It is
// computed once per aggregator.
type Layout struct {
	Offsets   []int
	Sizes     []int
	TotalSize int
	Align     int
}

func NewLayout(fns []AggregateFunction) Layout {
	l := Layout{
		Offsets: make([]int, len(fns)),
		Sizes:   make([]int, len(fns)),
		Align:   1,
	}
	for i, fn := range fns {
		align := fn.AlignOfData()
		if align < 1 {
			align = 1
		}
		l.TotalSize = (l.TotalSize + align - 1) / align * align
		l.Offsets[i] = l.TotalSize
		l.Sizes[i] = fn.SizeOfData()
		l.TotalSize += l.Sizes[i]
		if align > l.Align {
			l.Align = align
		}
	}
	return l
}

type PlaceStatus uint8

const (
	PlaceLive PlaceStatus = iota
	// every state of the place was destroyed.
	PlaceDestroyed
	// the states were handed over to StateColumns.
	PlaceMoved
)

func (s PlaceStatus) String() string {
	switch s {
	case PlaceLive:
		return "live"
	case PlaceDestroyed:
		return "destroyed"
	case PlaceMoved:
		return "moved"
	}
	return "unknown"
}

// Place is the aggregate state of one key: a blob laid out by a Layout
// plus one ref slot per function.
type Place struct {
	Data   []byte
	refs   []any
	status PlaceStatus
}

// NoStatePlace is mapped to keys when there is no aggregate function at
// all.  It owns nothing and is never destroyed.
var NoStatePlace = &Place{status: PlaceMoved}

func (p *Place) State(l *Layout, i int) State {
	off := l.Offsets[i]
	return State{
		Data: p.Data[off : off+l.Sizes[i] : off+l.Sizes[i]],
		ref:  &p.refs[i],
	}
}

func (p *Place) Status() PlaceStatus {
	return p.status
}

func (p *Place) IsLive() bool {
	return p.status == PlaceLive
}

// AllocPlace takes the blob of a new place from a.  No state is created.
func AllocPlace(l *Layout, n int, a *arena.Arena) (*Place, error) {
	data, err := a.AlignedAlloc(l.TotalSize, l.Align)
	if err != nil {
		return nil, err
	}
	return &Place{Data: data, refs: make([]any, n)}, nil
}

// CreatePlace allocates a place and creates the state of every function.
// If a Create fails, the states created before it are destroyed and the
// error is returned; the place must not be used.
func CreatePlace(fns []AggregateFunction, l *Layout, a *arena.Arena) (*Place, error) {
	if len(fns) == 0 {
		return NoStatePlace, nil
	}
	p, err := AllocPlace(l, len(fns), a)
	if err != nil {
		return nil, err
	}
	if err = CreateStates(fns, l, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateStates runs Create for every function of p.  On failure of the
// j-th function, functions 0..j-1 are destroyed in reverse order.
func CreateStates(fns []AggregateFunction, l *Layout, p *Place) (err error) {
	created := 0
	defer func() {
		if e := recover(); e != nil {
			err = moerr.ConvertPanicError(context.Background(), e)
		}
		if err != nil {
			for j := created - 1; j >= 0; j-- {
				fns[j].Destroy(p.State(l, j))
			}
			p.status = PlaceDestroyed
		}
	}()
	for i, fn := range fns {
		if err = fn.Create(p.State(l, i)); err != nil {
			return err
		}
		created++
	}
	p.status = PlaceLive
	return nil
}

// DestroyPlace destroys every state of p.  Destroying a place twice, or a
// place whose states were moved out, is a logical error.
func DestroyPlace(fns []AggregateFunction, l *Layout, p *Place) {
	if p == nil || p == NoStatePlace {
		return
	}
	if p.status != PlaceLive {
		panic(moerr.NewLogicalErrorNoCtx("destroy of an aggregate place that is %s", p.status))
	}
	p.status = PlaceDestroyed
	for i, fn := range fns {
		fn.Destroy(p.State(l, i))
	}
}

// MovePlace hands the states of p over to cols, one column per function.
func MovePlace(fns []AggregateFunction, l *Layout, p *Place, cols []*StateColumn) {
	if p == NoStatePlace {
		return
	}
	if p.status != PlaceLive {
		panic(moerr.NewLogicalErrorNoCtx("move of an aggregate place that is %s", p.status))
	}
	p.status = PlaceMoved
	for i := range fns {
		cols[i].Append(p.State(l, i))
	}
}

// MergePlaces folds src into dst function by function.
func MergePlaces(fns []AggregateFunction, l *Layout, dst, src *Place, a *arena.Arena) error {
	if dst == NoStatePlace {
		return nil
	}
	for i, fn := range fns {
		if err := fn.Merge(dst.State(l, i), src.State(l, i), a); err != nil {
			return err
		}
	}
	return nil
}
