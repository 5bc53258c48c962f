// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package cluster

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the error categories spec.md §7 requires callers to
// be able to tell apart.
type Kind int

const (
	// KindInvariant marks a bug: a call that would leave the tree in an
	// inconsistent state (duplicate child name, removing a nonexistent
	// node, double-assigning an application). No cycle proceeds after one
	// of these.
	KindInvariant Kind = iota
	// KindConfig marks a caller configuration mistake: negative capacity,
	// dimension mismatch, unknown label, shrinking an identity group
	// below its current holders.
	KindConfig
)

// Error is the error type every mutator in this package returns for
// invariant violations and configuration mistakes. Capacity/constraint
// exhaustion is never reported this way — see spec.md §7.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Is supports errors.Is(err, ErrInvariant) / errors.Is(err, ErrConfig).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ErrInvariant and ErrConfig are sentinels for errors.Is comparisons
// against a *Error's Kind, e.g. errors.Is(err, cluster.ErrInvariant).
var (
	ErrInvariant = &Error{Kind: KindInvariant}
	ErrConfig    = &Error{Kind: KindConfig}
)

func invariantErrorf(format string, args ...interface{}) error {
	return &Error{Kind: KindInvariant, msg: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, msg: fmt.Sprintf(format, args...)}
}

func wrapConfigError(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, msg: fmt.Sprintf(format, args...), err: errors.WithStack(err)}
}
