package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

var _ = Describe("Climate Actions", func() {
	Describe("ClimateOn", func() {
		It("turns climate control on", func() {
			cmd := action.ClimateOn()
			Expect(cmd.Domain).To(Equal(protocol.DomainInfotainment))
			Expect(cmd.Operation).To(Equal(action.OpClimate))
			enabled, ok := cmd.BoolParam(action.ParamEnabled)
			Expect(ok).To(BeTrue())
			Expect(enabled).To(BeTrue())
		})
	})

	Describe("ClimateOff", func() {
		It("turns climate control off", func() {
			cmd := action.ClimateOff()
			Expect(cmd.Operation).To(Equal(action.OpClimate))
			enabled, ok := cmd.BoolParam(action.ParamEnabled)
			Expect(ok).To(BeTrue())
			Expect(enabled).To(BeFalse())
		})
	})
})
