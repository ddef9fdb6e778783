package eventlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// JSONLSink flushes every event to an append-only JSONL file using zap's core
// encoder directly, rather than the higher-level *zap.Logger, since each
// record is already a finished struct and needs no further field
// composition — only fast, allocation-light JSON encoding, which is
// exactly what zapcore.NewJSONEncoder gives without logrus's textual
// formatting overhead.
type JSONLSink struct {
	core zapcore.Core
	file *os.File
}

// NewJSONLSink opens (creating if necessary) the JSONL file at path and
// returns a sink that appends one line per event.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = ""
	encoderCfg.MessageKey = ""
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), zapcore.InfoLevel)
	return &JSONLSink{core: core, file: f}, nil
}

// Write implements Sink.
func (s *JSONLSink) Write(ev Event) {
	fields := []zapcore.Field{
		zap.Int64("seq", ev.Seq),
		zap.String("event_type", ev.EventType),
		zap.String("agent_id", ev.AgentID),
		zap.String("artifact_id", ev.ArtifactID),
		zap.String("causal_id", ev.CausalID),
		zap.String("prev_hash", ev.PrevHash),
		zap.String("hash", ev.Hash),
		zap.Reflect("data", ev.Data),
	}
	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    ev.Timestamp,
		Message: ev.EventType,
	}
	if err := s.core.Write(entry, fields); err != nil {
		return
	}
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	_ = s.core.Sync()
	return s.file.Close()
}
