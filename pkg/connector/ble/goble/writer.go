package goble

import blelib "github.com/go-ble/ble"

type writer struct {
	characteristic *blelib.Characteristic
	client         blelib.Client
}

func (w *writer) Write(p []byte) (int, error) {
	if err := w.client.WriteCharacteristic(w.characteristic, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *writer) MTU(rxMTU int) (txMTU int, err error) {
	return w.client.ExchangeMTU(rxMTU)
}
