package prob_test

import (
	"github.com/ascend-vs/annserve/cmn/prob"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Filter", func() {
	It("sizes nbits as ceil(log2(n))+5 and the bit array as 2^(nbits-3) bytes", func() {
		// n=1000 -> ceil(log2(1000))=10 -> nbits=15 -> size=2^12=4096
		f := prob.New(1000)
		Expect(f.NBits()).To(Equal(uint(15)))
		Expect(f.Size()).To(Equal(1 << 12))
	})

	It("never reports a false negative for ids it was given", func() {
		f := prob.New(500)
		ids := []uint64{0, 1, 7, 42, 1000, 99999}
		for _, id := range ids {
			f.Add(id)
		}
		for _, id := range ids {
			Expect(f.MayContain(id)).To(BeTrue())
		}
	})

	It("resets to all-absent", func() {
		f := prob.New(10)
		f.Add(3)
		Expect(f.MayContain(3)).To(BeTrue())
		f.Reset()
		Expect(f.MayContain(3)).To(BeFalse())
	})
})
