package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

var _ = Describe("Closure Actions", func() {
	expectClosure := func(cmd *wire.Command, key wire.ParamKey, move uint8) {
		GinkgoHelper()
		Expect(cmd).ToNot(BeNil())
		Expect(cmd.Domain).To(Equal(protocol.DomainAccessControl))
		Expect(cmd.Operation).To(Equal(action.OpClosureMove))
		value, ok := cmd.Param(key)
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal(wire.Uint8Value(move)))
	}

	Describe("OpenTrunk", func() {
		It("moves the rear trunk open", func() {
			expectClosure(action.OpenTrunk(), action.ParamRearTrunk, 1)
		})
	})

	Describe("CloseTrunk", func() {
		It("moves the rear trunk closed", func() {
			expectClosure(action.CloseTrunk(), action.ParamRearTrunk, 2)
		})
	})

	Describe("OpenFrunk", func() {
		It("moves the front trunk open", func() {
			expectClosure(action.OpenFrunk(), action.ParamFrontTrunk, 1)
		})
	})

	Describe("OpenChargePort", func() {
		It("opens the charge port door", func() {
			expectClosure(action.OpenChargePort(), action.ParamChargePort, 1)
		})
	})

	Describe("CloseChargePort", func() {
		It("closes the charge port door", func() {
			expectClosure(action.CloseChargePort(), action.ParamChargePort, 2)
		})
	})
})
