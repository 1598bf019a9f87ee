package action_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

var _ = Describe("Security Actions", func() {
	Describe("StatusPoll", func() {
		It("requests security status", func() {
			cmd := action.StatusPoll()
			Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
			Expect(cmd.Operation).To(Equal(action.OpStatusPoll))
		})
	})

	Describe("EnrollKey", func() {
		It("carries the public key to enroll", func() {
			publicKey := bytes.Repeat([]byte{0x04}, 65)
			cmd := action.EnrollKey(publicKey)
			Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
			Expect(cmd.Operation).To(Equal(action.OpEnrollKey))
			value, ok := cmd.Param(action.ParamPublicKey)
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(publicKey))
		})
	})
})
