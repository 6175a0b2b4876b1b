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

package dispatch

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("extractJSON", func() {
	It("parses output that is already strict JSON", func() {
		parsed, err := extractJSON(`{"a":1,"b":"two"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed["a"]).To(BeNumerically("==", 1))
		Expect(parsed["b"]).To(Equal("two"))
	})

	It("falls back to a balanced-brace scan when JSON is wrapped in prose", func() {
		raw := "Here's the output:\n\n{\"result\":\"success\", \"nested\": {\"x\": 1}}\n\nHope that helps!"
		parsed, err := extractJSON(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed["result"]).To(Equal("success"))
	})

	It("ignores braces that appear inside string literals when scanning", func() {
		raw := "noise {\"text\": \"a { b } c\", \"ok\": true} trailing"
		parsed, err := extractJSON(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed["ok"]).To(Equal(true))
	})

	It("returns an error when no well-formed object is present", func() {
		_, err := extractJSON("no json here at all")
		Expect(err).To(HaveOccurred())
	})

	It("picks the first balanced object when more than one candidate is present", func() {
		raw := `junk {"first": 1} middle {"second": 2} end`
		parsed, err := extractJSON(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(HaveKey("first"))
	})
})
