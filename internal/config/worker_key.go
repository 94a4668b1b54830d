package config

type WorkerKeyStruct struct {
	PersistAlertsQueue string
	GradingQueue       string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAlertsQueue: "persist_alerts_queue",
	GradingQueue:       "persist_grading_queue",
}
