package action_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

var _ = Describe("Charge Actions", func() {
	Describe("ChargeStart", func() {
		It("enables charging on the infotainment domain", func() {
			cmd := action.ChargeStart()
			Expect(cmd.Domain).To(Equal(protocol.DomainInfotainment))
			Expect(cmd.Operation).To(Equal(action.OpChargingStartStop))
			enabled, ok := cmd.BoolParam(action.ParamEnabled)
			Expect(ok).To(BeTrue())
			Expect(enabled).To(BeTrue())
		})
	})

	Describe("ChargeStop", func() {
		It("disables charging", func() {
			cmd := action.ChargeStop()
			Expect(cmd.Operation).To(Equal(action.OpChargingStartStop))
			enabled, ok := cmd.BoolParam(action.ParamEnabled)
			Expect(ok).To(BeTrue())
			Expect(enabled).To(BeFalse())
		})
	})

	Describe("SetChargeLimit", func() {
		It("carries the requested percentage", func() {
			cmd, err := action.SetChargeLimit(80)
			Expect(err).ToNot(HaveOccurred())
			Expect(cmd.Operation).To(Equal(action.OpSetChargeLimit))
			value, ok := cmd.Param(action.ParamPercent)
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(wire.Uint8Value(80)))
		})

		It("rejects percentages above 100", func() {
			_, err := action.SetChargeLimit(101)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SetChargingAmps", func() {
		It("carries the requested current", func() {
			cmd, err := action.SetChargingAmps(16)
			Expect(err).ToNot(HaveOccurred())
			Expect(cmd.Operation).To(Equal(action.OpSetChargingAmps))
			value, ok := cmd.Param(action.ParamAmps)
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(wire.Uint8Value(16)))
		})

		It("rejects zero current", func() {
			_, err := action.SetChargingAmps(0)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ChargeStatePoll", func() {
		It("requests charge state without parameters", func() {
			cmd := action.ChargeStatePoll()
			Expect(cmd.Domain).To(Equal(protocol.DomainInfotainment))
			Expect(cmd.Operation).To(Equal(action.OpChargeStatePoll))
			Expect(cmd.Parameters).To(BeEmpty())
		})
	})
})
