package log

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/quickies-app/realtime-backend/utils/flag"
)

// global accessible logger
var (
	LogV2 *EngineLogger
)

// This init function is only for testing cases, where the entry point is not
// main function. Unit test will fail with nil pointer dereference if we don't
// init here.
func init() {
	initLogger()
}

type EngineLogger struct {
	*logrus.Entry
}

func initLogger() {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.JSONFormatter{})

	level := logrus.InfoLevel
	if parsed, err := logrus.ParseLevel(os.Getenv("QUICKIES_LOG_LEVEL")); err == nil {
		level = parsed
	}
	base.SetLevel(level)

	env := os.Getenv("QUICKIES_ENV")
	if len(env) == 0 {
		env = "unknown"
	}

	LogV2 = &EngineLogger{
		base.WithFields(logrus.Fields{
			"app": *flag.ServiceName,
			"env": env,
		}),
	}
}
