package radius

import (
	layeh "layeh.com/radius"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc3576"
)

type (
	Packet = layeh.Packet
	Code   = layeh.Code
)

const (
	CodeAccessRequest      = layeh.CodeAccessRequest
	CodeAccessAccept       = layeh.CodeAccessAccept
	CodeAccessReject       = layeh.CodeAccessReject
	CodeAccountingRequest  = layeh.CodeAccountingRequest
	CodeAccountingResponse = layeh.CodeAccountingResponse
	CodeAccessChallenge    = layeh.CodeAccessChallenge
	CodeDisconnectRequest  = layeh.CodeDisconnectRequest
	CodeDisconnectACK      = layeh.CodeDisconnectACK
	CodeDisconnectNAK      = layeh.CodeDisconnectNAK
	CodeCoARequest         = layeh.CodeCoARequest
	CodeCoAACK             = layeh.CodeCoAACK
	CodeCoANAK             = layeh.CodeCoANAK
)

const (
	AuthLen         = 16
	MaxAttributeLen = 253
	MaxPasswordLen  = 128
)

type AcctStatus = rfc2866.AcctStatusType

const (
	AcctStatusStart   = rfc2866.AcctStatusType_Value_Start
	AcctStatusStop    = rfc2866.AcctStatusType_Value_Stop
	AcctStatusInterim = rfc2866.AcctStatusType_Value_InterimUpdate
)

type TerminateCause = rfc2866.AcctTerminateCause

const (
	TerminateUserRequest    = rfc2866.AcctTerminateCause_Value_UserRequest
	TerminateLostCarrier    = rfc2866.AcctTerminateCause_Value_LostCarrier
	TerminateIdleTimeout    = rfc2866.AcctTerminateCause_Value_IdleTimeout
	TerminateSessionTimeout = rfc2866.AcctTerminateCause_Value_SessionTimeout
	TerminateAdminReset     = rfc2866.AcctTerminateCause_Value_AdminReset
	TerminateAdminReboot    = rfc2866.AcctTerminateCause_Value_AdminReboot
	TerminateNASRequest     = rfc2866.AcctTerminateCause_Value_NASRequest
)

// RFC 5176 Error-Cause values a NAS returns in Disconnect-NAK.
const (
	ErrorCauseResidualSessionRemoved = rfc3576.ErrorCause_Value_ResidualContextRemoved
	ErrorCauseSessionNotFound        = rfc3576.ErrorCause_Value_SessionContextNotFound
)
