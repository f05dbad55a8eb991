package cos_test

import (
	"errors"

	"github.com/ascend-vs/annserve/cmn/cos"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Errs", func() {
	It("dedups identical errors and reports a count", func() {
		var e cos.Errs
		e.Add(errors.New("device 0: kernel failure"))
		e.Add(errors.New("device 0: kernel failure"))
		e.Add(errors.New("device 1: link down"))
		Expect(e.Cnt()).To(Equal(2))
		cnt, joined := e.JoinErr()
		Expect(cnt).To(Equal(2))
		Expect(joined).NotTo(BeNil())
	})

	It("reports a suffix count beyond the first error", func() {
		var e cos.Errs
		e.Add(errors.New("a"))
		e.Add(errors.New("b"))
		Expect(e.Error()).To(ContainSubstring("and 1 more error"))
	})
})

var _ = Describe("UUID", func() {
	BeforeEach(func() {
		cos.InitShortID(1)
	})

	It("generates ids that pass IsValidUUID", func() {
		id := cos.GenUUID()
		Expect(cos.IsValidUUID(id)).To(BeTrue())
	})

	It("generates distinct ids across calls", func() {
		a := cos.GenUUID()
		b := cos.GenUUID()
		Expect(a).NotTo(Equal(b))
	})
})
