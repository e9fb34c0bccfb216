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
	"strings"
	"sync"

	"github.com/matrixorigin/mogroupby/pkg/common/moerr"
	"github.com/matrixorigin/mogroupby/pkg/container/types"
)

/*
	aggregate functions are made by name through New.
	Register adds a function next to the built in ones.
*/

// Builder makes a function for argument types already checked against
// the registered argument count.
type Builder func(args []types.Type) (AggregateFunction, error)

type registeredAgg struct {
	minArgs, maxArgs int
	build            Builder
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registeredAgg{}
)

// Register adds a function, maxArgs < 0 means no upper bound.
func Register(name string, minArgs, maxArgs int, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = registeredAgg{minArgs: minArgs, maxArgs: maxArgs, build: b}
}

func New(name string, argTypes ...types.Type) (AggregateFunction, error) {
	registryMu.RLock()
	r, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, moerr.NewUnknownAggregateFunction(moerr.Context(), name)
	}
	if len(argTypes) < r.minArgs || (r.maxArgs >= 0 && len(argTypes) > r.maxArgs) {
		should := r.minArgs
		if len(argTypes) > r.minArgs && r.maxArgs >= 0 {
			should = r.maxArgs
		}
		return nil, moerr.NewNumberOfArgumentsDoesntMatch(moerr.Context(), name, len(argTypes), should)
	}
	return r.build(argTypes)
}

func illegalType(typ types.Type, fn string) error {
	return moerr.NewIllegalTypeOfArgument(moerr.Context(), typ.String(), fn)
}

func init() {
	Register("count", 0, 1, func(args []types.Type) (AggregateFunction, error) {
		return newCount(args), nil
	})
	Register("sum", 1, 1, makeSum)
	Register("avg", 1, 1, makeAvg)
	Register("min", 1, 1, func(args []types.Type) (AggregateFunction, error) {
		return makeExtreme("min", keepMin, args[0])
	})
	Register("max", 1, 1, func(args []types.Type) (AggregateFunction, error) {
		return makeExtreme("max", keepMax, args[0])
	})
	Register("any", 1, 1, func(args []types.Type) (AggregateFunction, error) {
		return makeExtreme("any", keepFirst, args[0])
	})
	Register("uniqExact", 1, -1, func(args []types.Type) (AggregateFunction, error) {
		return newUniqExact(args), nil
	})
	Register("uniq", 1, 1, func(args []types.Type) (AggregateFunction, error) {
		return newUniq(args), nil
	})
	Register("groupBitmap", 1, 1, func(args []types.Type) (AggregateFunction, error) {
		switch args[0].Oid {
		case types.T_int8, types.T_int16, types.T_int32, types.T_int64,
			types.T_uint8, types.T_uint16, types.T_uint32, types.T_uint64:
			return newGroupBitmap(args[0]), nil
		}
		return nil, illegalType(args[0], "groupBitmap")
	})
}

func makeSum(args []types.Type) (AggregateFunction, error) {
	arg := args[0]
	switch arg.Oid {
	case types.T_int8:
		return newSum[int8, int64](arg, types.T_int64), nil
	case types.T_int16:
		return newSum[int16, int64](arg, types.T_int64), nil
	case types.T_int32:
		return newSum[int32, int64](arg, types.T_int64), nil
	case types.T_int64:
		return newSum[int64, int64](arg, types.T_int64), nil
	case types.T_uint8:
		return newSum[uint8, uint64](arg, types.T_uint64), nil
	case types.T_uint16:
		return newSum[uint16, uint64](arg, types.T_uint64), nil
	case types.T_uint32:
		return newSum[uint32, uint64](arg, types.T_uint64), nil
	case types.T_uint64:
		return newSum[uint64, uint64](arg, types.T_uint64), nil
	case types.T_float32:
		return newSum[float32, float64](arg, types.T_float64), nil
	case types.T_float64:
		return newSum[float64, float64](arg, types.T_float64), nil
	}
	return nil, illegalType(arg, "sum")
}

func makeAvg(args []types.Type) (AggregateFunction, error) {
	arg := args[0]
	switch arg.Oid {
	case types.T_int8:
		return newAvg[int8](arg), nil
	case types.T_int16:
		return newAvg[int16](arg), nil
	case types.T_int32:
		return newAvg[int32](arg), nil
	case types.T_int64:
		return newAvg[int64](arg), nil
	case types.T_uint8:
		return newAvg[uint8](arg), nil
	case types.T_uint16:
		return newAvg[uint16](arg), nil
	case types.T_uint32:
		return newAvg[uint32](arg), nil
	case types.T_uint64:
		return newAvg[uint64](arg), nil
	case types.T_float32:
		return newAvg[float32](arg), nil
	case types.T_float64:
		return newAvg[float64](arg), nil
	}
	return nil, illegalType(arg, "avg")
}

func orderedLess(oid types.T) func(a, b []byte) bool {
	switch oid {
	case types.T_int8:
		return lessOf[int8]()
	case types.T_int16:
		return lessOf[int16]()
	case types.T_int32:
		return lessOf[int32]()
	case types.T_int64:
		return lessOf[int64]()
	case types.T_uint8:
		return lessOf[uint8]()
	case types.T_uint16:
		return lessOf[uint16]()
	case types.T_uint32:
		return lessOf[uint32]()
	case types.T_uint64:
		return lessOf[uint64]()
	case types.T_float32:
		return lessOf[float32]()
	case types.T_float64:
		return lessOf[float64]()
	case types.T_date:
		return lessOf[types.Date]()
	case types.T_datetime:
		return lessOf[types.Datetime]()
	case types.T_char:
		return lessBytes
	}
	return nil
}

func makeExtreme(name string, k keep, arg types.Type) (AggregateFunction, error) {
	if arg.IsVarlen() {
		return newExtremeVarlen(name, k, arg), nil
	}
	less := orderedLess(arg.Oid)
	if less == nil && k != keepFirst {
		return nil, illegalType(arg, name)
	}
	return newExtremeFixed(name, k, arg, less), nil
}
