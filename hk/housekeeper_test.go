package hk_test

import (
	"time"

	"github.com/ascend-vs/annserve/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered cleanup after its delay and then stops it", func() {
		fired := make(chan struct{}, 4)
		hk.Reg("test-once", func() time.Duration {
			fired <- struct{}{}
			return 0 // unregister after first tick
		}, time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
		Consistently(fired, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("reschedules a cleanup that returns a positive next delay", func() {
		fired := make(chan struct{}, 8)
		hk.Reg("test-periodic", func() time.Duration {
			fired <- struct{}{}
			return time.Millisecond
		}, time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
		Eventually(fired, time.Second).Should(Receive())
		hk.Unreg("test-periodic")
	})
})
