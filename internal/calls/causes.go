package calls

import "strconv"

// Q.850 cause codes the dialer cares about.
const (
	CauseUnallocatedNumber     = 1
	CauseNormalClearing        = 16
	CauseUserBusy              = 17
	CauseNoUserResponse        = 18
	CauseNoAnswer              = 19
	CauseSubscriberAbsent      = 20
	CauseCallRejected          = 21
	CauseNumberChanged         = 22
	CauseDestinationOutOfOrder = 27
	CauseInvalidNumberFormat   = 28
	CauseNormalUnspecified     = 31
	CauseCongestion            = 34
	CauseNetworkOutOfOrder     = 38
	CauseTemporaryFailure      = 41
	CauseSwitchCongestion      = 42
	CauseInterworking          = 127
)

var causeText = map[int]string{
	0:                          "UNKNOWN",
	CauseUnallocatedNumber:     "UNALLOCATED_NUMBER",
	3:                          "NO_ROUTE_DESTINATION",
	CauseNormalClearing:        "NORMAL_CLEARING",
	CauseUserBusy:              "USER_BUSY",
	CauseNoUserResponse:        "NO_USER_RESPONSE",
	CauseNoAnswer:              "NO_ANSWER",
	CauseSubscriberAbsent:      "SUBSCRIBER_ABSENT",
	CauseCallRejected:          "CALL_REJECTED",
	CauseNumberChanged:         "NUMBER_CHANGED",
	CauseDestinationOutOfOrder: "DESTINATION_OUT_OF_ORDER",
	CauseInvalidNumberFormat:   "INVALID_NUMBER_FORMAT",
	CauseNormalUnspecified:     "NORMAL_UNSPECIFIED",
	CauseCongestion:            "NORMAL_CIRCUIT_CONGESTION",
	CauseNetworkOutOfOrder:     "NETWORK_OUT_OF_ORDER",
	CauseTemporaryFailure:      "NORMAL_TEMPORARY_FAILURE",
	CauseSwitchCongestion:      "SWITCH_CONGESTION",
	CauseInterworking:          "INTERWORKING",
}

// CauseText names a Q.850 cause code.
func CauseText(code int) string {
	if s, ok := causeText[code]; ok {
		return s
	}
	return "CAUSE_" + strconv.Itoa(code)
}

// ClassifyHangup maps the cause of a hangup before answer to a terminal
// status. Hangups after answer always complete; see Attempt.Hangup.
func ClassifyHangup(code int) Status {
	switch code {
	case CauseUserBusy:
		return StatusBusy
	case CauseNoUserResponse, CauseNoAnswer, CauseNormalClearing:
		return StatusNoAnswer
	default:
		return StatusFailed
	}
}

// OriginateResponse failure reasons.
const (
	ReasonFailure     = 0
	ReasonHangup      = 1
	ReasonRingTimeout = 3
	ReasonAnswered    = 4
	ReasonBusy        = 5
	ReasonCongestion  = 8
)

// ClassifyOriginateReason maps an OriginateResponse Reason to a terminal status.
func ClassifyOriginateReason(reason int) Status {
	switch reason {
	case ReasonBusy:
		return StatusBusy
	case ReasonRingTimeout, ReasonHangup:
		return StatusNoAnswer
	default:
		return StatusFailed
	}
}

func OriginateReasonText(reason int) string {
	switch reason {
	case ReasonHangup:
		return "ORIGINATE_HANGUP"
	case ReasonRingTimeout:
		return "ORIGINATE_RING_TIMEOUT"
	case ReasonBusy:
		return "ORIGINATE_BUSY"
	case ReasonCongestion:
		return "ORIGINATE_CONGESTION"
	default:
		return "ORIGINATE_FAILURE_" + strconv.Itoa(reason)
	}
}
