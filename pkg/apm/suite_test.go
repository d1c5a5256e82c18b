package apm

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// TestAPM bootstraps the Ginkgo suite for the APM manager.
func TestAPM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "APM Manager Suite")
}
