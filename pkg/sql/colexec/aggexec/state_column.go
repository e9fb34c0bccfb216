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
	"io"

	"github.com/matrixorigin/mogroupby/pkg/common/arena"
	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
)

// StateColumn is a column of intermediate states of one function.  It owns
// its states: Free destroys each of them exactly once.
type StateColumn struct {
	fn     AggregateFunction
	states []State
	// arenas whose memory the states live in.
	arenas []*arena.Arena
	freed  bool
}

func NewStateColumn(fn AggregateFunction) *StateColumn {
	return &StateColumn{fn: fn}
}

func (c *StateColumn) Fn() AggregateFunction {
	return c.fn
}

func (c *StateColumn) Len() int {
	return len(c.states)
}

func (c *StateColumn) State(i int) State {
	return c.states[i]
}

// Append adopts s, the column will destroy it.
func (c *StateColumn) Append(s State) {
	if c.freed {
		panic(moerr.NewLogicalErrorNoCtx("append to a freed state column of %s", c.fn.Name()))
	}
	c.states = append(c.states, s)
}

func (c *StateColumn) AddArena(a *arena.Arena) {
	for _, x := range c.arenas {
		if x == a {
			return
		}
	}
	c.arenas = append(c.arenas, a)
}

func (c *StateColumn) Arenas() []*arena.Arena {
	return c.arenas
}

// Free destroys every state of the column.
func (c *StateColumn) Free() {
	if c == nil || c.freed {
		return
	}
	c.freed = true
	for _, s := range c.states {
		c.fn.Destroy(s)
	}
	c.states = nil
}

// TakeStates hands the states of the column over to the caller, the column
// is left empty and destroys nothing.
func (c *StateColumn) TakeStates() []State {
	states := c.states
	c.states = nil
	return states
}

// Serialize writes the number of states and then each state.
func (c *StateColumn) Serialize(w io.Writer) error {
	if err := writeUvarint(w, uint64(len(c.states))); err != nil {
		return err
	}
	for _, s := range c.states {
		if err := c.fn.Serialize(s, w); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeStateColumn reads a column written by Serialize.  States are
// allocated from a; on error every state read so far is destroyed.
func DeserializeStateColumn(fn AggregateFunction, r io.Reader, a *arena.Arena) (*StateColumn, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	col := NewStateColumn(fn)
	col.AddArena(a)
	for i := uint64(0); i < n; i++ {
		if err = col.readState(r, a); err != nil {
			col.Free()
			return nil, err
		}
	}
	return col, nil
}

func (c *StateColumn) readState(r io.Reader, a *arena.Arena) error {
	s, err := standaloneState(c.fn, a)
	if err != nil {
		return err
	}
	if err = c.fn.Create(s); err != nil {
		return err
	}
	c.Append(s)
	return c.fn.Deserialize(s, r, a)
}
