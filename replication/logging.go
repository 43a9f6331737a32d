package replication

import "time"

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordHandshake(duration time.Duration)
	RecordReplicaCount(count int)
	RecordPropagation(delivered bool)
	RecordQueueDepth(depth int)
	RecordError(errorType string)
}

// defaultLogger discards everything
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}

func (l *defaultLogger) Info(msg string, fields ...interface{}) {}

func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
