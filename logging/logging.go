package logging

import (
	log "github.com/sirupsen/logrus"
)

// Fields every entry of a run carries once the account is known
const (
	FieldRunID      = "run-id"
	FieldAWSAccount = "aws-account"
	FieldAWSRegion  = "aws-region"
)

// Configure applies the CLI's log settings to logger. Terminals get plain text
// without timestamps, jsonOutput switches to JSON entries with a severity
// field. An unknown level leaves the logger at info and returns the parse
// error
func Configure(logger *log.Logger, level string, jsonOutput bool) error {
	if logger == nil {
		return nil
	}

	if jsonOutput {
		logger.SetFormatter(&log.JSONFormatter{})
		logger.AddHook(SeverityHook{})
	} else {
		logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// RunFields identifies a run in the account and region it acts on
func RunFields(runID, account, region string) log.Fields {
	return log.Fields{
		FieldRunID:      runID,
		FieldAWSAccount: account,
		FieldAWSRegion:  region,
	}
}

// RunFieldsHook stamps every entry with fields that identify the current run.
// Fields already set on an entry win
type RunFieldsHook struct {
	Fields log.Fields
}

func (RunFieldsHook) Levels() []log.Level {
	return log.AllLevels
}

func (h RunFieldsHook) Fire(entry *log.Entry) error {
	if entry == nil {
		return nil
	}
	for k, v := range h.Fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// severities maps logrus levels onto GCP log severities
var severities = map[log.Level]string{
	log.PanicLevel: "emergency",
	log.FatalLevel: "critical",
	log.ErrorLevel: "error",
	log.WarnLevel:  "warning",
	log.InfoLevel:  "info",
	log.DebugLevel: "debug",
	log.TraceLevel: "debug",
}

// SeverityHook adds a severity field so JSON logs can be ingested without
// remapping
type SeverityHook struct{}

func (SeverityHook) Levels() []log.Level {
	return log.AllLevels
}

func (SeverityHook) Fire(entry *log.Entry) error {
	if entry == nil {
		return nil
	}
	if _, ok := entry.Data["severity"]; ok {
		return nil
	}

	severity, ok := severities[entry.Level]
	if !ok {
		severity = "default"
	}
	entry.Data["severity"] = severity
	return nil
}
