package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
	"github.com/opentools-mf/azdo-runner-operator/internal/scheduler"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scheduler Suite")
}

var _ = Describe("Scheduler", func() {
	It("polls a never-polled entry on its first tick", func() {
		reg := registry.New()
		reg.Upsert("ns", "a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 5)

		var mu sync.Mutex
		var polled []string
		s := scheduler.New(reg, func(_ context.Context, namespace, name string) error {
			mu.Lock()
			defer mu.Unlock()
			polled = append(polled, namespace+"/"+name)
			return nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_ = s.Start(ctx)

		mu.Lock()
		defer mu.Unlock()
		Expect(polled).To(ContainElement("ns/a"))
	})

	It("does not poll an entry well inside its interval", func() {
		reg := registry.New()
		reg.Upsert("ns", "a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 3600)
		reg.MarkPolled("ns", "a", time.Now())

		var mu sync.Mutex
		polled := 0
		s := scheduler.New(reg, func(_ context.Context, _, _ string) error {
			mu.Lock()
			defer mu.Unlock()
			polled++
			return nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_ = s.Start(ctx)

		mu.Lock()
		defer mu.Unlock()
		Expect(polled).To(Equal(0))
	})

	It("stops promptly when the context is canceled", func() {
		reg := registry.New()
		s := scheduler.New(reg, func(_ context.Context, _, _ string) error { return nil })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Start(ctx) }()

		cancel()
		select {
		case err := <-done:
			Expect(err).NotTo(HaveOccurred())
		case <-time.After(time.Second):
			Fail("Start did not return promptly after cancellation")
		}
	})
})
