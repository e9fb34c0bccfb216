// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package batch

import (
	"github.com/matrixorigin/mogroupby/pkg/container/vector"
	"github.com/matrixorigin/mogroupby/pkg/sql/colexec/aggexec"
)

// Batch represents a block of rows
//
//	(Attrs, Vecs) - named columns
//	(AggAttrs, Aggs) - named aggregate state columns of an intermediate block
//	BucketNum - two level bucket every row belongs to, -1 if unknown
//	IsOverflows - the block holds the overflow row of a group by
type Batch struct {
	// reference count, default is 1
	Cnt int64
	// Attrs column name list
	Attrs []string
	// Vecs col data
	Vecs []*vector.Vector

	AggAttrs []string
	Aggs     []*aggexec.StateColumn

	BucketNum   int32
	IsOverflows bool

	rowCount int
}

// EmptyBatch is returned where a block is expected but there is nothing.
var EmptyBatch = &Batch{BucketNum: -1}
