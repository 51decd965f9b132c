// Copyright The OpenTelemetry Authors
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

package feature

import (
	"context"

	"github.com/sethvargo/go-envconfig"
	"go.uber.org/multierr"
)

// Settings is the environment-driven feature policy.
type Settings struct {
	// EnableAll starts from every feature instead of the defaults.
	EnableAll bool `env:"OTEL_RUNTIME_BRIDGE_ENABLE_ALL,default=false"`

	// Enable lists features to turn on.
	Enable []string `env:"OTEL_RUNTIME_BRIDGE_ENABLE"`

	// Disable lists features to turn off.  Disable wins over Enable.
	Disable []string `env:"OTEL_RUNTIME_BRIDGE_DISABLE"`
}

// SettingsFromEnv reads Settings from the process environment.
func SettingsFromEnv(ctx context.Context) (Settings, error) {
	var s Settings
	if err := envconfig.Process(ctx, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Predicate compiles the settings.  Unknown names are skipped and
// returned together as an error; the predicate is usable either way.
func (s Settings) Predicate() (Predicate, error) {
	var enabled [numFeatures]bool
	if s.EnableAll {
		for i := range enabled {
			enabled[i] = true
		}
	} else {
		enabled = defaults
	}

	var err error
	set := func(list []string, on bool) {
		for _, name := range list {
			if name == "" {
				continue
			}
			f, perr := Parse(name)
			if perr != nil {
				err = multierr.Append(err, perr)
				continue
			}
			enabled[f] = on
		}
	}
	set(s.Enable, true)
	set(s.Disable, false)

	return func(f Feature) bool {
		if f < 0 || f >= numFeatures {
			return false
		}
		return enabled[f]
	}, err
}
