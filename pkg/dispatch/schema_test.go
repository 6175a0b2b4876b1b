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

var _ = Describe("validateResult", func() {
	It("passes an unrecognized taskType through unvalidated", func() {
		payload := map[string]any{"whatever": "goes"}
		out, err := validateResult("unregistered-task-type", payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(payload))
	})

	It("validates a well-formed dev-story result", func() {
		payload := map[string]any{
			"result": "success",
			"tests":  "pass",
			"ac_met": []string{"AC1"},
		}
		out, err := validateResult("dev-story", payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(out["tests"]).To(Equal("pass"))
	})

	It("rejects a dev-story result with an out-of-enum tests field", func() {
		payload := map[string]any{"result": "success", "tests": "flaky"}
		_, err := validateResult("dev-story", payload)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a code-review result with an out-of-enum verdict", func() {
		payload := map[string]any{"verdict": "LOOKS_FINE_I_GUESS", "issue_list": []any{}}
		_, err := validateResult("code-review", payload)
		Expect(err).To(HaveOccurred())
	})

	It("corrects issues to zero when issue_list is empty", func() {
		payload := map[string]any{"verdict": "SHIP_IT", "issues": 7, "issue_list": []any{}}
		out, err := validateResult("code-review", payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(out["issues"]).To(BeNumerically("==", 0))
	})
})
