/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// CanCreate reports whether the filesystem holding path has room for size more bytes.
// An existing file never needs new room for the purpose of this check.
// When usage cannot be determined it returns true and leaves the failure to open/truncate.
func CanCreate(path string, size uint64) bool {
	if PathExists(path) {
		return true
	}
	dir := filepath.Dir(path)
	abs, err := filepath.Abs(dir)
	if err == nil {
		dir = abs
	}
	stat, err := disk.Usage(dir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
