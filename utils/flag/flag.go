package flag

import "flag"

var (
	ServiceName = flag.String("service", "realtime_engine", "name of the running service, used in logging and metrics tagging")
	Port        = flag.Int("port", 8080, "port the transport server listens on")
)

func ParseFlags() {
	flag.Parse()
}
