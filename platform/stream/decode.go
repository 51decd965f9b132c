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

package stream

import (
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lightstep/otel-runtime-bridge/event"
)

var codec = sonic.ConfigStd

var errNoType = errors.New("record has no type")

// record is one line of the stream.
type record struct {
	Type        string         `json:"type"`
	StartTime   string         `json:"startTime"`
	Duration    any            `json:"duration"`
	EventThread any            `json:"eventThread"`
	Values      map[string]any `json:"values"`
}

var renamed = map[string]string{
	"JavaMonitorWait":      event.TypeMonitorWait,
	"JavaThreadStatistics": event.TypeThreadStatistics,
}

// normalizeType maps a recorded event type to the bridge's name.
func normalizeType(t string) string {
	t = strings.TrimPrefix(t, "jdk.")
	if n, ok := renamed[t]; ok {
		return n
	}
	return t
}

func decode(line []byte) (event.Event, error) {
	var r record
	if err := codec.Unmarshal(line, &r); err != nil {
		return event.Event{}, err
	}
	if r.Type == "" {
		return event.Event{}, errNoType
	}

	fields := r.Values
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields["duration"]; !ok && r.Duration != nil {
		fields["duration"] = r.Duration
	}
	if _, ok := fields["eventThread"]; !ok && r.EventThread != nil {
		fields["eventThread"] = r.EventThread
	}

	ts := time.Now()
	if r.StartTime != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, r.StartTime); err == nil {
			ts = parsed
		}
	}
	return event.Event{
		Type:   normalizeType(r.Type),
		Time:   ts,
		Fields: fields,
	}, nil
}
