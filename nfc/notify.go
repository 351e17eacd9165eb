package nfc

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Notify hands a scanned card to the callback. Whatever the callback does, returning an error or panicking, is
// contained here and returned as a *CallbackError so that a polling loop can log it and carry on.
func Notify(plugin string, onScan ScanFunc, ev CardEvent) (err error) {
	if onScan == nil {
		log.WithField("plugin", plugin).Debugf("No callback registered, dropping card %v", ev.CardID)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{CardID: ev.CardID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			log.WithFields(log.Fields{
				"plugin": plugin,
				"card":   ev.CardID,
			}).Errorf("Error in scan callback: %v", err)
		}
	}()

	log.WithFields(log.Fields{"plugin": plugin, "card": ev.CardID}).Infof("Card detected: %v", ev.CardID)
	if cbErr := onScan(ev.CardID); cbErr != nil {
		return &CallbackError{CardID: ev.CardID, Err: cbErr}
	}
	return nil
}
