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

// Package auth implements the credentials a process carries: user and group
// IDs and a capability set.
package auth

import (
	"github.com/mohae/deepcopy"
)

// KUID is a user ID.
type KUID uint32

// KGID is a group ID.
type KGID uint32

const (
	// RootKUID is the user ID of the superuser.
	RootKUID KUID = 0

	// RootKGID is the group ID of the superuser group.
	RootKGID KGID = 0

	// NoID is returned for IDs that cannot be represented.
	NoID = 65534
)

// Capability is a Linux capability number.
type Capability int

// Capabilities consulted by the kernel core.
const (
	CAP_KILL         Capability = 5
	CAP_SETUID       Capability = 7
	CAP_SYS_NICE     Capability = 23
	CAP_SYS_RESOURCE Capability = 24
	CAP_LAST_CAP     Capability = 40
)

// A CapabilitySet is a set of capabilities implemented as a bitset. The zero
// value of CapabilitySet is a set containing no capabilities.
type CapabilitySet uint64

// AllCapabilities is a CapabilitySet containing all valid capabilities.
var AllCapabilities = CapabilitySetOf(CAP_LAST_CAP+1) - 1

// CapabilitySetOf returns a CapabilitySet containing only the given
// capability.
func CapabilitySetOf(cp Capability) CapabilitySet {
	return CapabilitySet(uint64(1) << uint(cp))
}

// Credentials contains information required to authorize privileged
// operations in a process.
//
// Every field is exported so that Fork can deep copy the set; a Credentials
// reachable from a Process must not be mutated after publication. Use Fork
// to obtain a private copy first.
type Credentials struct {
	RealKUID      KUID
	EffectiveKUID KUID
	SavedKUID     KUID
	RealKGID      KGID
	EffectiveKGID KGID
	SavedKGID     KGID

	// ExtraKGIDs are supplementary groups.
	ExtraKGIDs []KGID

	PermittedCaps CapabilitySet
	EffectiveCaps CapabilitySet
}

// NewRootCredentials returns credentials with all capabilities.
func NewRootCredentials() *Credentials {
	return &Credentials{
		RealKUID:      RootKUID,
		EffectiveKUID: RootKUID,
		SavedKUID:     RootKUID,
		RealKGID:      RootKGID,
		EffectiveKGID: RootKGID,
		SavedKGID:     RootKGID,
		PermittedCaps: AllCapabilities,
		EffectiveCaps: AllCapabilities,
	}
}

// NewUserCredentials returns credentials for the given user and groups with
// no capabilities.
func NewUserCredentials(kuid KUID, kgid KGID, extraKGIDs []KGID) *Credentials {
	return &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		SavedKUID:     kuid,
		RealKGID:      kgid,
		EffectiveKGID: kgid,
		SavedKGID:     kgid,
		ExtraKGIDs:    append([]KGID(nil), extraKGIDs...),
	}
}

// Fork generates an identical copy of a set of credentials.
func (c *Credentials) Fork() *Credentials {
	return deepcopy.Copy(c).(*Credentials)
}

// InGroup returns true if c is in group kgid.
func (c *Credentials) InGroup(kgid KGID) bool {
	if c.EffectiveKGID == kgid {
		return true
	}
	for _, extraKGID := range c.ExtraKGIDs {
		if extraKGID == kgid {
			return true
		}
	}
	return false
}

// HasCapability returns true if c has capability cp.
func (c *Credentials) HasCapability(cp Capability) bool {
	return c.EffectiveCaps&CapabilitySetOf(cp) != 0
}

// CanSignal returns true if a process with credentials c may send a signal to
// a process with credentials target, as in kill(2).
func (c *Credentials) CanSignal(target *Credentials) bool {
	if c.HasCapability(CAP_KILL) {
		return true
	}
	return c.EffectiveKUID == target.RealKUID ||
		c.EffectiveKUID == target.SavedKUID ||
		c.RealKUID == target.RealKUID ||
		c.RealKUID == target.SavedKUID
}
