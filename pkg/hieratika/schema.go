package hieratika

import "fmt"

// Server endpoint paths. All of them accept form-encoded POST requests.
const (
	PathLogin                   = "/login"
	PathLogout                  = "/logout"
	PathGetUsers                = "/getusers"
	PathGetUser                 = "/getuser"
	PathGetPages                = "/getpages"
	PathGetPage                 = "/getpage"
	PathGetVariablesInfo        = "/getvariablesinfo"
	PathGetLiveVariablesInfo    = "/getlivevariablesinfo"
	PathGetLibraryVariablesInfo = "/getlibraryvariablesinfo"
	PathGetTransformationsInfo  = "/gettransformationsinfo"
	PathGetScheduleFolders      = "/getschedulefolders"
	PathGetSchedules            = "/getschedules"
	PathGetSchedule             = "/getschedule"
	PathGetScheduleValues       = "/getschedulevariablesvalues"
	PathCreateSchedule          = "/createschedule"
	PathCreateScheduleFolder    = "/createschedulefolder"
	PathDeleteScheduleFolder    = "/deleteschedulefolder"
	PathObsoleteScheduleFolder  = "/obsoleteschedulefolder"
	PathDeleteSchedule          = "/deleteschedule"
	PathObsoleteSchedule        = "/obsoleteschedule"
	PathUpdateSchedule          = "/updateschedule"
	PathCommitSchedule          = "/commitschedule"
	PathUpdatePlant             = "/updateplant"
	PathUpdatePlantFromSchedule = "/updateplantfromschedule"
	PathLoadIntoPlant           = "/loadintoplant"
	PathGetLibraries            = "/getlibraries"
	PathGetLibraryValues        = "/getlibraryvariablesvalues"
	PathSaveLibrary             = "/savelibrary"
	PathDeleteLibrary           = "/deletelibrary"
	PathObsoleteLibrary         = "/obsoletelibrary"
	PathTransform               = "/transform"
	PathStatistics              = "/statistics"
	PathStream                  = "/stream"
)

// Plain text reply codes.
const (
	ReplyOK                = "ok"
	ReplyInvalidToken      = "InvalidToken"
	ReplyInvalidParameters = "InvalidParameters"
	ReplyUnknownError      = "UnknownError"
	ReplyInUse             = "InUse"
	ReplyNotFound          = "NotFound"
)

// Reference names. A widget compares its value against the plant, against
// nothing, or against the values of another schedule (identified by UID).
const (
	ReferencePlant = "plant"
	ReferenceNone  = "none"
)

// Display colours shared by every widget kind.
const (
	ColorPlant              = "red"
	ColorNone               = "white"
	ColorReference          = "blue"
	ColorPlantOrRefChanged  = "gray"
	ColorDiffInitChanged    = "blue"
	ColorStandardForeground = "black"
	ColorStandardBackground = "white"
	ColorErrorBackground    = "red"
	ColorDisabled           = "#EAEAEA"
)

// StreamChannel returns the Pub/Sub channel the relay uses for push messages.
// Pattern: hieratika:{instance_name}:stream
func StreamChannel(instanceName string) string {
	return fmt.Sprintf("hieratika:%s:stream", instanceName)
}
