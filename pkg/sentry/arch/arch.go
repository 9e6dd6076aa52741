// Copyright 2018 The gVisor Authors.
// Copyright 2026 The Iris Authors.
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

// Package arch describes the architecture-dependent state a task carries
// across a context switch: its general purpose registers and its floating
// point state.
package arch

import (
	"fmt"
)

// Arch describes an architecture.
type Arch int

const (
	// AMD64 is the x86-64 architecture.
	AMD64 Arch = iota
	// ARM64 is the aarch64 architecture.
	ARM64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Arch(%d)", a)
	}
}

// FPStateSize is the size of the floating point save area (FXSAVE on x86).
const FPStateSize = 512

// FloatingPointData is a generic type, and will always be passed as a pointer.
type FloatingPointData []byte

// NewFloatingPointData returns a zeroed save area.
func NewFloatingPointData() *FloatingPointData {
	f := make(FloatingPointData, FPStateSize)
	return &f
}

// Fork creates and returns an identical copy of the floating point state.
func (f *FloatingPointData) Fork() *FloatingPointData {
	n := make(FloatingPointData, len(*f))
	copy(n, *f)
	return &n
}

// SyscallArgument is an argument supplied to a syscall implementation.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}

// Registers is the saved general purpose register file of a task.
type Registers struct {
	// IP is the instruction pointer.
	IP uintptr
	// SP is the stack pointer.
	SP uintptr
	// Ret holds the system call return value (rax on x86-64, x0 on arm64).
	Ret uintptr
	// Args hold system call arguments.
	Args [6]uintptr
	// TLS is the thread pointer.
	TLS uintptr
}

// Context is the architecture-dependent state of a single task.
type Context struct {
	arch Arch
	Regs Registers
	fp   *FloatingPointData
}

// New returns a zeroed Context for arch.
func New(arch Arch) *Context {
	return &Context{
		arch: arch,
		fp:   NewFloatingPointData(),
	}
}

// Arch returns the architecture for this Context.
func (c *Context) Arch() Arch {
	return c.arch
}

// Fork creates a clone of the context. The clone owns its own copy of the
// floating point state.
func (c *Context) Fork() *Context {
	return &Context{
		arch: c.arch,
		Regs: c.Regs,
		fp:   c.fp.Fork(),
	}
}

// Return returns the return value for a system call.
func (c *Context) Return() uintptr {
	return c.Regs.Ret
}

// SetReturn sets the return value for a system call.
func (c *Context) SetReturn(value uintptr) {
	c.Regs.Ret = value
}

// SyscallArgs returns the syscall arguments in an array.
func (c *Context) SyscallArgs() SyscallArguments {
	var args SyscallArguments
	for i, v := range c.Regs.Args {
		args[i].Value = v
	}
	return args
}

// IP returns the current instruction pointer.
func (c *Context) IP() uintptr {
	return c.Regs.IP
}

// SetIP sets the current instruction pointer.
func (c *Context) SetIP(value uintptr) {
	c.Regs.IP = value
}

// Stack returns the current stack pointer.
func (c *Context) Stack() uintptr {
	return c.Regs.SP
}

// SetStack sets the current stack pointer.
func (c *Context) SetStack(value uintptr) {
	c.Regs.SP = value
}

// FloatingPointData returns the floating point save area.
func (c *Context) FloatingPointData() *FloatingPointData {
	return c.fp
}
