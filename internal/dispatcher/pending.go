package dispatcher

import (
	"time"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

type result struct {
	reply *wire.Command
	err   error
}

// pendingRequest tracks one outstanding command awaiting a vehicle response. It is resolved at
// most once, then removed from the dispatcher's handler table; a late reply arriving after the
// caller gave up is dropped without correlation.
type pendingRequest struct {
	id         [wire.RequestIDLength]byte
	domain     protocol.Domain
	ch         chan result
	dispatcher *Dispatcher
	sentAt     time.Time
}

// Close tells the dispatcher to stop listening for responses to this request, freeing the
// corresponding resources.
func (p *pendingRequest) Close() {
	if p.dispatcher != nil {
		p.dispatcher.closeHandler(p)
	}
}
