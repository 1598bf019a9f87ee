package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

var _ = Describe("RKE Actions", func() {
	Describe("Wake", func() {
		It("returns a wake command for the access control unit", func() {
			cmd := action.Wake()
			Expect(cmd).ToNot(BeNil())
			Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
			Expect(cmd.Operation).To(Equal(action.OpWake))
			Expect(cmd.Parameters).To(BeEmpty())
		})
	})

	Describe("Lock", func() {
		It("returns a lock command", func() {
			cmd := action.Lock()
			Expect(cmd).ToNot(BeNil())
			Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
			Expect(cmd.Operation).To(Equal(action.OpLock))
		})
	})

	Describe("Unlock", func() {
		It("returns an unlock command", func() {
			cmd := action.Unlock()
			Expect(cmd).ToNot(BeNil())
			Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
			Expect(cmd.Operation).To(Equal(action.OpUnlock))
		})
	})
})
