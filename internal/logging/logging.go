// Package logging centralizes the fanout core's structured-logging
// conventions. It is a thin layer over logrus, imported by callers the
// same way the teacher repo imports it directly (log "github.com/sirupsen/logrus"),
// plus a couple of field helpers so every actor logs the same key names.
package logging

import (
	log "github.com/sirupsen/logrus"
)

// Fields for a source-stream scoped log line.
func SourceFields(project, stream string) log.Fields {
	return log.Fields{"project": project, "stream": stream}
}

// Fields for an estuary scoped log line.
func EstuaryFields(project, estuary string) log.Fields {
	return log.Fields{"project": project, "estuary": estuary}
}

// WithFanoutSeq adds the allocated fanout sequence to an existing field set.
func WithFanoutSeq(f log.Fields, seq int64) log.Fields {
	var out = make(log.Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["fanoutSeq"] = seq
	return out
}

// Log is the package-level logger. Tests may swap its output via
// Log.SetOutput to silence or capture log lines.
var Log = log.StandardLogger()
