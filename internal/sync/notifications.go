package sync

import (
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/sync/types"
)

func SendNotification(notifier types.Notifier, msg string) {
	if notifier == nil {
		return
	}

	log := logger.GetLogger()

	if err := notifier.Notify(msg); err != nil {
		log.Errorw("an error ocurred when sending notification",
			"error", err)
	}
}
