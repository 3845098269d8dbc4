package sked_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestSked(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
