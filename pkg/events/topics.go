package events

const (
	TopicSessionLifecycle = "hotspotd:events:session:lifecycle"
	TopicNotifyUser       = "hotspotd:events:notify:user"
	TopicNotifyBroadcast  = "hotspotd:events:notify:broadcast"
)
