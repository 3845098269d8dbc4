package sked_test

import (
	"sync/atomic"
	"time"

	"github.com/cyberjacob/android-htsp/internal/sked"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Every", func() {
	It("invokes the job repeatedly until canceled", func() {
		var n int32
		job := sked.Every(5*time.Millisecond, func() {
			atomic.AddInt32(&n, 1)
		})

		Eventually(func() int32 { return atomic.LoadInt32(&n) }, time.Second, 5*time.Millisecond).
			Should(BeNumerically(">=", 3))

		job.Cancel()
		after := atomic.LoadInt32(&n)

		Consistently(func() int32 { return atomic.LoadInt32(&n) }, 30*time.Millisecond, 5*time.Millisecond).
			Should(Equal(after))
	})

	It("tolerates Cancel being called more than once", func() {
		job := sked.Every(time.Hour, func() {})
		job.Cancel()
		Expect(job.Cancel).NotTo(Panic())
	})
})
