package service

import (
	"fmt"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
)

var businessTZ = time.FixedZone("IST", constants.BusinessTZOffsetSec)

// CheckQuietHours rejects marketing-category sends scheduled inside the
// regulated window [21:00, 09:00) local time. Checked at scheduling and
// again at actual dispatch, since a campaign may be scheduled hours ahead.
func CheckQuietHours(category string, at time.Time) error {
	if category != models.CategoryMarketing {
		return nil
	}

	hour := at.In(businessTZ).Hour()
	if hour >= constants.QuietHoursStartHour || hour < constants.QuietHoursEndHour {
		return errors.New(errors.ErrCodeQuietHours,
			fmt.Sprintf("marketing messages cannot be sent between %02d:00 and %02d:00 IST",
				constants.QuietHoursStartHour, constants.QuietHoursEndHour)).
			WithUserMessage(fmt.Sprintf("Marketing messages cannot be sent between %02d:00 and %02d:00 IST. Please schedule for daytime hours.",
				constants.QuietHoursStartHour, constants.QuietHoursEndHour))
	}
	return nil
}
