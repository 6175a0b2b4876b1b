/*
Copyright 2025 Jordi Gil.

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

// Package logging wraps logrus.Fields in a small fluent builder so every
// component logs the same vocabulary (component, operation, resource,
// duration, error) instead of ad-hoc key names.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a fluent builder over logrus.Fields.
type Fields logrus.Fields

// NewFields returns an empty builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

// RunID, Phase, and StoryKey are Substrate-specific additions the teacher's generic
// Fields builder didn't need but every orchestrator log line here does.
func (f Fields) RunID(id string) Fields {
	if id != "" {
		f["run_id"] = id
	}
	return f
}

func (f Fields) Phase(phase string) Fields {
	if phase != "" {
		f["phase"] = phase
	}
	return f
}

func (f Fields) StoryKey(key string) Fields {
	if key != "" {
		f["story_key"] = key
	}
	return f
}

// Logrus converts the builder back to logrus.Fields for use with a
// *logrus.Entry or *logrus.Logger.
func (f Fields) Logrus() logrus.Fields {
	return logrus.Fields(f)
}
