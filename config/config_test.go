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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Defaults apply without a file", t, func() {
		c, err := Load(New(), "")
		So(err, ShouldBeNil)
		So(c, ShouldResemble, Default())
	})

	Convey("A file overrides defaults", t, func() {
		path := filepath.Join(t.TempDir(), "qvisord.yaml")
		err := os.WriteFile(path, []byte(`
listen: ":9000"
stop_timeout: 5s
engine:
  binary: /usr/bin/qemu-system-aarch64
  run_dir: ""
nats:
  url: nats://localhost:4222
log:
  level: debug
`), 0644)
		So(err, ShouldBeNil)

		c, err := Load(New(), path)
		So(err, ShouldBeNil)
		So(c.Listen, ShouldEqual, ":9000")
		So(c.StopTimeout, ShouldEqual, 5*time.Second)
		So(c.ReadyTimeout, ShouldEqual, 30*time.Second)
		So(c.Engine.Binary, ShouldEqual, "/usr/bin/qemu-system-aarch64")
		So(c.Engine.RunDir, ShouldEqual, "")
		So(c.Engine.ImgBinary, ShouldEqual, "qemu-img")
		So(c.Nats.URL, ShouldEqual, "nats://localhost:4222")
		So(c.Nats.Subject, ShouldEqual, "qvisor")
		So(c.Log.Level, ShouldEqual, "debug")
	})

	Convey("The environment overrides the file", t, func() {
		t.Setenv("QVISOR_LISTEN", "127.0.0.1:7000")
		t.Setenv("QVISOR_ENGINE_DISPLAY", "gtk")
		c, err := Load(New(), "")
		So(err, ShouldBeNil)
		So(c.Listen, ShouldEqual, "127.0.0.1:7000")
		So(c.Engine.Display, ShouldEqual, "gtk")
	})

	Convey("A named file must exist", t, func() {
		_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
	})

	Convey("Invalid settings are rejected", t, func() {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		So(os.WriteFile(path, []byte("stop_timeout: 0s\n"), 0644), ShouldBeNil)
		_, err := Load(New(), path)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "stop_timeout")
	})
}

func TestValidate(t *testing.T) {
	Convey("Validate", t, func() {
		c := Default()
		So(c.Validate(), ShouldBeNil)

		Convey("Auth needs both halves", func() {
			c.AuthUser = "admin"
			So(c.Validate(), ShouldNotBeNil)
			c.AuthHash = "$2a$10$abcdefghijklmnopqrstuv"
			So(c.Validate(), ShouldBeNil)
		})
		Convey("Log level must be known", func() {
			c.Log.Level = "loud"
			So(c.Validate(), ShouldNotBeNil)
		})
		Convey("NATS needs a subject", func() {
			c.Nats.URL = "nats://localhost:4222"
			c.Nats.Subject = ""
			So(c.Validate(), ShouldNotBeNil)
		})
		Convey("Engine binary is required", func() {
			c.Engine.Binary = ""
			So(c.Validate(), ShouldNotBeNil)
		})
	})
}
