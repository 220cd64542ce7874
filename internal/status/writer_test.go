package status_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/status"
)

func TestStatus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Status Suite")
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	Expect(opentoolsmfv1.AddToScheme(scheme)).To(Succeed())
	return scheme
}

var _ = Describe("Writer", func() {
	var (
		pool   *opentoolsmfv1.RunnerPool
		c      client.Client
		writer *status.Writer
		key    client.ObjectKey
	)

	BeforeEach(func() {
		pool = &opentoolsmfv1.RunnerPool{
			ObjectMeta: metav1.ObjectMeta{Name: "pool-a", Namespace: "default"},
			Spec:       opentoolsmfv1.RunnerPoolSpec{MaxAgents: 5},
		}
		c = fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(pool).WithStatusSubresource(pool).Build()
		writer = status.New(c)
		key = client.ObjectKey{Namespace: "default", Name: "pool-a"}
	})

	It("writes a connected report with a Ready/True condition", func() {
		err := writer.Write(context.Background(), key, metav1.Now(), status.Report{
			Connected:        true,
			OrganizationName: "contoso",
			QueuedJobs:       2,
			RunningAgents:    3,
			MaxAgents:        5,
			Agents: []opentoolsmfv1.AgentSummary{
				{Name: "pool-a-1", Status: "Running"},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		var got opentoolsmfv1.RunnerPool
		Expect(c.Get(context.Background(), key, &got)).To(Succeed())
		Expect(got.Status.ConnectionStatus).To(Equal("Connected"))
		Expect(got.Status.OrganizationName).To(Equal("contoso"))
		Expect(got.Status.AgentsSummary).To(Equal("3/5"))
		Expect(got.Status.Conditions).To(HaveLen(1))
		Expect(got.Status.Conditions[0].Status).To(Equal(metav1.ConditionTrue))
		Expect(got.Status.Conditions[0].Reason).To(Equal("Polled"))
	})

	It("records an error report as Disconnected with a ReconcileError condition", func() {
		writeErr := errors.New("boom")
		err := writer.Write(context.Background(), key, metav1.Now(), status.Report{Err: writeErr})
		Expect(err).NotTo(HaveOccurred())

		var got opentoolsmfv1.RunnerPool
		Expect(c.Get(context.Background(), key, &got)).To(Succeed())
		Expect(got.Status.ConnectionStatus).To(Equal("Disconnected"))
		Expect(got.Status.LastError).To(Equal("boom"))
		Expect(got.Status.Conditions[0].Reason).To(Equal("ReconcileError"))
	})

	It("preserves LastTransitionTime when the condition status does not change", func() {
		first := metav1.Now()
		Expect(writer.Write(context.Background(), key, first, status.Report{Connected: true})).To(Succeed())

		var afterFirst opentoolsmfv1.RunnerPool
		Expect(c.Get(context.Background(), key, &afterFirst)).To(Succeed())
		firstTransition := afterFirst.Status.Conditions[0].LastTransitionTime

		second := metav1.NewTime(first.Add(1))
		Expect(writer.Write(context.Background(), key, second, status.Report{Connected: true})).To(Succeed())

		var afterSecond opentoolsmfv1.RunnerPool
		Expect(c.Get(context.Background(), key, &afterSecond)).To(Succeed())
		Expect(afterSecond.Status.Conditions[0].LastTransitionTime).To(Equal(firstTransition))
	})

	It("returns nil without error when the pool no longer exists", func() {
		err := writer.Write(context.Background(), client.ObjectKey{Namespace: "default", Name: "missing"}, metav1.Now(), status.Report{})
		Expect(err).NotTo(HaveOccurred())
	})
})
