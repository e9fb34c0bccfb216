// Copyright 2021 Matrix Origin
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

package moerr

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"runtime/debug"
)

const MySQLDefaultSqlState = "HY000"

const (
	ER_UNKNOWN_ERROR     uint16 = 1105
	ER_OUTOFMEMORY       uint16 = 1037
	ER_QUERY_INTERRUPTED uint16 = 1317
	ER_RECORD_FILE_FULL  uint16 = 1114
)

const (
	// 0 - 99 is OK.  They do not contain info, and are special handled
	// using a static instance, no alloc.
	Ok            uint16 = 0
	OkExpectedEOF uint16 = 2 // Expected End Of File

	OkMax uint16 = 99

	// Group 1: Internal errors
	ErrStart            uint16 = 20100
	ErrInternal         uint16 = 20101
	ErrNYI              uint16 = 20102
	ErrOOM              uint16 = 20103
	ErrQueryInterrupted uint16 = 20104
	ErrNotSupported     uint16 = 20105
	ErrLogicalError     uint16 = 20106

	// Group 3: invalid input
	ErrBadConfig    uint16 = 20300
	ErrInvalidInput uint16 = 20301

	// Group 4: unexpected state and io errors
	ErrInvalidState   uint16 = 20400
	ErrFileNotFound   uint16 = 20405
	ErrUnexpectedEOF  uint16 = 20407
	ErrNotEnoughSpace uint16 = 20412

	// Group 5: aggregation
	ErrTooManyRows                  uint16 = 20500
	ErrCannotMergeDifferentVariants uint16 = 20501
	ErrUnknownAggregatedDataVariant uint16 = 20502
	ErrEmptyDataPassed              uint16 = 20503
	ErrUnknownAggregateFunction     uint16 = 20504
	ErrIllegalTypeOfArgument        uint16 = 20505
	ErrNumberOfArgumentsDoesntMatch uint16 = 20506
	ErrCorruptedAggregateState      uint16 = 20507

	// Group End: max value of MOErrorCode
	ErrEnd uint16 = 65535
)

type moErrorMsgItem struct {
	mysqlCode        uint16
	sqlStates        []string
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]moErrorMsgItem{
	Ok:            {0, []string{"00000"}, "ok"},
	OkExpectedEOF: {0, []string{"00000"}, "ExpectedEOF"},

	// Group 1: Internal errors
	ErrInternal:         {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "internal error: %s"},
	ErrNYI:              {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "%s is not yet implemented"},
	ErrOOM:              {ER_OUTOFMEMORY, []string{MySQLDefaultSqlState}, "error: out of memory"},
	ErrQueryInterrupted: {ER_QUERY_INTERRUPTED, []string{MySQLDefaultSqlState}, "query interrupted"},
	ErrNotSupported:     {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "not supported: %s"},
	ErrLogicalError:     {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "logical error: %s"},

	// Group 3: invalid input
	ErrBadConfig:    {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "invalid configuration: %s"},
	ErrInvalidInput: {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "invalid input: %s"},

	// Group 4: unexpected state or file io error
	ErrInvalidState:   {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "invalid state %s"},
	ErrFileNotFound:   {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "file %s is not found"},
	ErrUnexpectedEOF:  {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "unexpected end of file %s"},
	ErrNotEnoughSpace: {ER_RECORD_FILE_FULL, []string{MySQLDefaultSqlState}, "not enough space for temporary data in %s: need %d bytes, available %d bytes"},

	// Group 5: aggregation
	ErrTooManyRows:                  {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "Limit for rows to GROUP BY exceeded: has %d rows, maximum: %d"},
	ErrCannotMergeDifferentVariants: {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "cannot merge different aggregated data variants: %s and %s"},
	ErrUnknownAggregatedDataVariant: {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "unknown aggregated data variant %d"},
	ErrEmptyDataPassed:              {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "empty data passed to %s"},
	ErrUnknownAggregateFunction:     {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "unknown aggregate function %s"},
	ErrIllegalTypeOfArgument:        {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "illegal type %s of argument for aggregate function %s"},
	ErrNumberOfArgumentsDoesntMatch: {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "number of arguments for function %s doesn't match: passed %d, should be %d"},
	ErrCorruptedAggregateState:      {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "corrupted state of aggregate function %s: %s"},

	// Group End: max value of MOErrorCode
	ErrEnd: {ER_UNKNOWN_ERROR, []string{MySQLDefaultSqlState}, "internal error: end of errcode code"},
}

func newError(ctx context.Context, code uint16, args ...any) *Error {
	var err *Error
	item, has := errorMsgRefer[code]
	if !has {
		panic(NewInternalError(ctx, "not exist MOErrorCode: %d", code))
	}
	if len(args) == 0 {
		err = &Error{
			code:      code,
			mysqlCode: item.mysqlCode,
			message:   item.errorMsgOrFormat,
			sqlState:  item.sqlStates[0],
		}
	} else {
		err = &Error{
			code:      code,
			mysqlCode: item.mysqlCode,
			message:   fmt.Sprintf(item.errorMsgOrFormat, args...),
			sqlState:  item.sqlStates[0],
		}
	}
	return err
}

type Error struct {
	code      uint16
	mysqlCode uint16
	message   string
	sqlState  string
	detail    string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Detail() string {
	return e.detail
}

func (e *Error) Display() string {
	if len(e.detail) == 0 {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.detail)
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) MySQLCode() uint16 {
	return e.mysqlCode
}

func (e *Error) SqlState() string {
	return e.sqlState
}

// MarshalBinary encodes code, mysql code, sql state and message with
// uint16 length prefixes.
func (e *Error) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 8+len(e.sqlState)+len(e.message))
	data = binary.BigEndian.AppendUint16(data, e.code)
	data = binary.BigEndian.AppendUint16(data, e.mysqlCode)
	data = binary.BigEndian.AppendUint16(data, uint16(len(e.sqlState)))
	data = append(data, e.sqlState...)
	data = binary.BigEndian.AppendUint32(data, uint32(len(e.message)))
	data = append(data, e.message...)
	return data, nil
}

func (e *Error) UnmarshalBinary(data []byte) error {
	if len(data) < 6 {
		return NewUnexpectedEOFNoCtx("moerr")
	}
	e.code = binary.BigEndian.Uint16(data)
	e.mysqlCode = binary.BigEndian.Uint16(data[2:])
	n := int(binary.BigEndian.Uint16(data[4:]))
	data = data[6:]
	if len(data) < n+4 {
		return NewUnexpectedEOFNoCtx("moerr")
	}
	e.sqlState = string(data[:n])
	data = data[n:]
	m := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < m {
		return NewUnexpectedEOFNoCtx("moerr")
	}
	e.message = string(data[:m])
	return nil
}

func IsMoErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}

	me, ok := e.(*Error)
	if !ok {
		// This is not a moerr
		return false
	}
	return me.code == rc
}

func DowncastError(e error) *Error {
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(Context(), ErrInternal, fmt.Sprintf("downcast error failed: %v", e))
}

// ConvertPanicError converts a runtime panic to internal error.
func ConvertPanicError(ctx context.Context, v interface{}) *Error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return newError(ctx, ErrInternal, fmt.Sprintf("panic %v: %s", v, debug.Stack()))
}

// ConvertGoError converts a go error into mo error.
// Note here we must return error, because nil error
// is the same as nil *Error -- Go strangeness.
func ConvertGoError(ctx context.Context, err error) error {
	// nil is nil
	if err == nil {
		return err
	}

	// already a moerr, return it as is
	if _, ok := err.(*Error); ok {
		return err
	}

	// Convert a few well known os/go error.
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// if io.EOF reaches here, we believe it is not expected.
		return NewUnexpectedEOF(ctx, err.Error())
	}

	return NewInternalError(ctx, "convert go error to mo error %v", err)
}

func (e *Error) Succeeded() bool {
	return e.code < OkMax
}

var errOkExpectedEOF = Error{OkExpectedEOF, 0, "ExpectedEOF", "00000", ""}

func GetOkExpectedEOF() *Error {
	return &errOkExpectedEOF
}

var defaultContext = context.Background()

// Context returns the context used by the NoCtx constructors.
func Context() context.Context {
	return defaultContext
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInternal, xmsg)
}

func NewNYI(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNYI, xmsg)
}

func NewNotSupported(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNotSupported, xmsg)
}

func NewOOM(ctx context.Context) *Error {
	return newError(ctx, ErrOOM)
}

func NewQueryInterrupted(ctx context.Context) *Error {
	return newError(ctx, ErrQueryInterrupted)
}

func NewLogicalError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrLogicalError, xmsg)
}

func NewBadConfig(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrBadConfig, xmsg)
}

func NewInvalidInput(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidInput, xmsg)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidState, xmsg)
}

func NewFileNotFound(ctx context.Context, f string) *Error {
	return newError(ctx, ErrFileNotFound, f)
}

func NewUnexpectedEOF(ctx context.Context, f string) *Error {
	return newError(ctx, ErrUnexpectedEOF, f)
}

func NewNotEnoughSpace(ctx context.Context, dir string, need, avail uint64) *Error {
	return newError(ctx, ErrNotEnoughSpace, dir, need, avail)
}

func NewTooManyRows(ctx context.Context, has, max uint64) *Error {
	return newError(ctx, ErrTooManyRows, has, max)
}

func NewCannotMergeDifferentVariants(ctx context.Context, a, b string) *Error {
	return newError(ctx, ErrCannotMergeDifferentVariants, a, b)
}

func NewUnknownAggregatedDataVariant(ctx context.Context, tag int) *Error {
	return newError(ctx, ErrUnknownAggregatedDataVariant, tag)
}

func NewEmptyDataPassed(ctx context.Context, where string) *Error {
	return newError(ctx, ErrEmptyDataPassed, where)
}

func NewUnknownAggregateFunction(ctx context.Context, name string) *Error {
	return newError(ctx, ErrUnknownAggregateFunction, name)
}

func NewIllegalTypeOfArgument(ctx context.Context, typ string, fn string) *Error {
	return newError(ctx, ErrIllegalTypeOfArgument, typ, fn)
}

func NewNumberOfArgumentsDoesntMatch(ctx context.Context, fn string, passed, should int) *Error {
	return newError(ctx, ErrNumberOfArgumentsDoesntMatch, fn, passed, should)
}

func NewCorruptedAggregateState(ctx context.Context, fn string, msg string, args ...any) *Error {
	return newError(ctx, ErrCorruptedAggregateState, fn, fmt.Sprintf(msg, args...))
}

// NoCtx variants, used where no request context is threaded through.

func NewInternalErrorNoCtx(msg string) *Error {
	return NewInternalError(Context(), "%s", msg)
}

func NewInternalErrorNoCtxf(format string, args ...any) *Error {
	return NewInternalError(Context(), format, args...)
}

func NewLogicalErrorNoCtx(format string, args ...any) *Error {
	return NewLogicalError(Context(), format, args...)
}

func NewInvalidInputNoCtx(format string, args ...any) *Error {
	return NewInvalidInput(Context(), format, args...)
}

func NewBadConfigNoCtx(format string, args ...any) *Error {
	return NewBadConfig(Context(), format, args...)
}

func NewUnexpectedEOFNoCtx(f string) *Error {
	return NewUnexpectedEOF(Context(), f)
}

func NewOOMNoCtx() *Error {
	return NewOOM(Context())
}

func NewQueryInterruptedNoCtx() *Error {
	return NewQueryInterrupted(Context())
}

func NewTooManyRowsNoCtx(has, max uint64) *Error {
	return NewTooManyRows(Context(), has, max)
}

func NewCannotMergeDifferentVariantsNoCtx(a, b string) *Error {
	return NewCannotMergeDifferentVariants(Context(), a, b)
}

func NewUnknownAggregatedDataVariantNoCtx(tag int) *Error {
	return NewUnknownAggregatedDataVariant(Context(), tag)
}

func NewEmptyDataPassedNoCtx(where string) *Error {
	return NewEmptyDataPassed(Context(), where)
}

func NewCorruptedAggregateStateNoCtx(fn string, msg string, args ...any) *Error {
	return NewCorruptedAggregateState(Context(), fn, msg, args...)
}
