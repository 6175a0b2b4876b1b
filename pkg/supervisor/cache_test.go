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
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

var _ = Describe("RedisCache", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		cache  *RedisCache
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = NewRedisCache(client, time.Hour)
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("round-trips a RunState", func() {
		now := time.Now().UTC().Truncate(time.Second)
		state := RunState{RunID: "run-1", Status: "running", LastEventAt: now}
		Expect(cache.Set(context.Background(), state)).To(Succeed())

		got, ok, err := cache.Get(context.Background(), "run-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(got.RunID).To(Equal("run-1"))
		Expect(got.Status).To(Equal("running"))
		Expect(got.LastEventAt.Equal(now)).To(BeTrue())
	})

	It("reports ok=false for a run never written", func() {
		_, ok, err := cache.Get(context.Background(), "never-seen")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("expires an entry once the TTL elapses", func() {
		cache = NewRedisCache(client, time.Second)
		Expect(cache.Set(context.Background(), RunState{RunID: "run-2", Status: "running", LastEventAt: time.Now()})).To(Succeed())

		mr.FastForward(2 * time.Second)

		_, ok, err := cache.Get(context.Background(), "run-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("defaults the TTL when a non-positive value is given", func() {
		c := NewRedisCache(client, 0)
		Expect(c.Set(context.Background(), RunState{RunID: "run-3", Status: "running", LastEventAt: time.Now()})).To(Succeed())
		_, ok, err := c.Get(context.Background(), "run-3")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(mr.TTL("substrate:run-state:run-3")).To(Equal(24 * time.Hour))
	})
})
