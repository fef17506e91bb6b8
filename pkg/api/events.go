package api

// Events exchanged between workers and the coordinator. The direction of each
// event is noted next to it.
const (
	EventRunning            = "running"             // worker -> coordinator
	EventAutomatedStart     = "automated-start"     // coordinator -> worker
	EventInteractiveStart   = "interactive-start"   // coordinator -> worker
	EventStart              = "start"               // worker -> coordinator
	EventExperimentStarted  = "experiment-started"  // coordinator -> worker, requires ack
	EventUpload             = "upload"              // coordinator -> leader
	EventUploaded           = "uploaded"            // leader -> coordinator
	EventDownload           = "download"            // coordinator -> non-leader
	EventDownloaded         = "downloaded"          // worker -> coordinator
	EventClientError        = "client-error"        // worker -> coordinator
	EventError              = "error"               // coordinator -> worker
	EventExperimentFinished = "experiment-finished" // coordinator -> worker
)

// Responses maps every dispatched action to the event that acknowledges its
// completion.
var Responses = map[string]string{
	EventUpload:   EventUploaded,
	EventDownload: EventDownloaded,
}
