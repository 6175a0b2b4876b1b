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

package supervisor

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/pkg/eventbus"
)

var _ = Describe("Heartbeat", func() {
	It("emits pipeline:heartbeat on the interval when untouched", func() {
		bus := eventbus.New()
		var mu sync.Mutex
		var count int
		bus.On(eventbus.PipelineHeartbeat, func(eventbus.Payload) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		hb := NewHeartbeat(bus, "run-1", 10*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
		defer cancel()
		hb.Run(ctx)

		mu.Lock()
		defer mu.Unlock()
		Expect(count).To(BeNumerically(">=", 3))
	})

	It("suppresses the next tick after Touch", func() {
		bus := eventbus.New()
		var mu sync.Mutex
		var count int
		bus.On(eventbus.PipelineHeartbeat, func(eventbus.Payload) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		hb := NewHeartbeat(bus, "run-2", 15*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		hb.Touch()
		hb.Run(ctx)

		mu.Lock()
		defer mu.Unlock()
		Expect(count).To(Equal(0))
	})

	It("defaults the interval when a non-positive value is given", func() {
		hb := NewHeartbeat(eventbus.New(), "run-3", 0)
		Expect(hb.interval).To(Equal(30 * time.Second))
	})
})
