package logger

const (
	Main        = "main"
	RADIUS      = "radius"
	AAA         = "aaa"
	Acctd       = "acctd"
	Monitor     = "monitor"
	Notify      = "notify"
	Enforce     = "enforce"
	Store       = "store"
	Events      = "events"
	Push        = "push"
	Gateway     = "gateway"
	Exporter    = "exporter"
	Config      = "config"
	Watchdog    = "watchdog"
	RouterOS    = "enforce.routeros"
	CoA         = "enforce.coa"
	PushRedis   = "push.redis"
	MonitorTick = "monitor.tick"
)
