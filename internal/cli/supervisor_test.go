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

package cli

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/johnplanow/substrate/pkg/supervisor"
)

var _ = Describe("runStateCache adapter", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		cache  runStateCache
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = runStateCache{cache: supervisor.NewRedisCache(client, time.Hour)}
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("preserves the PID a prior write recorded across a status-only update", func() {
		Expect(cache.cache.Set(context.Background(), supervisor.RunState{
			RunID: "run-1", Status: "running", LastEventAt: time.Now().UTC(), PID: 4242,
		})).To(Succeed())

		Expect(cache.SetRunState(context.Background(), "run-1", "completed", time.Now().UTC())).To(Succeed())

		got, ok, err := cache.cache.Get(context.Background(), "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.Status).To(Equal("completed"))
		Expect(got.PID).To(Equal(4242))
	})

	It("defaults PID to 0 when no prior entry exists", func() {
		Expect(cache.SetRunState(context.Background(), "run-2", "running", time.Now().UTC())).To(Succeed())

		got, ok, err := cache.cache.Get(context.Background(), "run-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.PID).To(Equal(0))
	})
})
