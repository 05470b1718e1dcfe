/*
Copyright 2019 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipc

import "crypto/subtle"

// KeySet is the opaque collection of API keys the parent pushes over the IPC
// pipe. Each key is a fixed 16-byte block (the hex-encoded key text itself,
// verbatim - see protocol.go). Membership is tested in constant time and the
// scan always runs to completion rather than returning on the first match,
// so timing does not reveal whether or which key matched.
type KeySet struct {
	keys [][KeyLen]byte
}

// NewKeySet splits a key-set update payload into its constituent 16-byte
// key blocks. malformed reports a payload whose length is not a multiple of
// KeyLen; the caller treats that the same as an allocation failure (the
// parent sent a frame keep cannot be parsed, so the prior key set is kept).
func NewKeySet(payload []byte) (ks KeySet, malformed bool) {
	if len(payload)%KeyLen != 0 {
		return KeySet{}, true
	}

	count := len(payload) / KeyLen
	keys := make([][KeyLen]byte, count)
	for i := 0; i < count; i++ {
		copy(keys[i][:], payload[i*KeyLen:(i+1)*KeyLen])
	}

	return KeySet{keys: keys}, false
}

// Check reports whether password matches one of the configured keys.
func (ks KeySet) Check(password []byte) bool {
	var found int

	for _, key := range ks.keys {
		if len(password) == KeyLen && subtle.ConstantTimeCompare(password, key[:]) == 1 {
			found = 1
		}
	}

	return found == 1
}

// Len returns the number of configured keys.
func (ks KeySet) Len() int {
	return len(ks.keys)
}
