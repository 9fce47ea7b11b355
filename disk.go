// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qvisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DiskCreator prepares backing storage for machines that ask for a new
// disk.  It runs before the engine is spawned.
type DiskCreator interface {
	CreateDisk(ctx context.Context, path, format string, sizeMiB int) error
}

// QemuImg creates disk images with qemu-img.  An image that already
// exists is left untouched, so a machine keeps its disk across runs.
type QemuImg struct {
	// Binary defaults to qemu-img.
	Binary string
}

func (q *QemuImg) CreateDisk(ctx context.Context, path, format string, sizeMiB int) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	bin := q.Binary
	if bin == "" {
		bin = "qemu-img"
	}
	if format == "" {
		format = "qcow2"
	}
	cmd := exec.CommandContext(ctx, bin, "create", "-f", format, path,
		strconv.Itoa(sizeMiB)+"M")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("qemu-img create: %w: %s",
			err, strings.TrimSpace(string(out)))
	}
	return nil
}
