package registry_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry Suite")
}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New()
	})

	It("returns no entries before anything is registered", func() {
		Expect(reg.Snapshot()).To(BeEmpty())
	})

	It("upserts a zero LastPolled so the next tick treats it as due", func() {
		reg.Upsert("ns", "pool-a", planner.PoolSpec{PoolName: "pool-a"}, "pat", "https://dev.azure.com/org", 30)

		entries := reg.Snapshot()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].LastPolled.IsZero()).To(BeTrue())
		Expect(entries[0].PollIntervalSeconds).To(Equal(30))
	})

	It("marks polled without disturbing other fields", func() {
		reg.Upsert("ns", "pool-a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 30)
		now := time.Now()
		reg.MarkPolled("ns", "pool-a", now)

		entries := reg.Snapshot()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].LastPolled).To(BeTemporally("==", now))
		Expect(entries[0].PAT).To(Equal("pat"))
		Expect(entries[0].AzURL).To(Equal("https://dev.azure.com/org"))
		Expect(entries[0].PollIntervalSeconds).To(Equal(30))
	})

	It("is a no-op marking polled on an entry that was removed", func() {
		reg.Upsert("ns", "pool-a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 30)
		reg.Remove("ns", "pool-a")
		reg.MarkPolled("ns", "pool-a", time.Now())

		Expect(reg.Snapshot()).To(BeEmpty())
	})

	It("records a resolved pool id", func() {
		reg.Upsert("ns", "pool-a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 30)
		reg.SetPoolID("ns", "pool-a", 42)

		entries := reg.Snapshot()
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].PoolID).To(Equal(42))
	})

	It("removes an entry", func() {
		reg.Upsert("ns", "pool-a", planner.PoolSpec{}, "pat", "https://dev.azure.com/org", 30)
		reg.Remove("ns", "pool-a")

		Expect(reg.Snapshot()).To(BeEmpty())
	})
})
