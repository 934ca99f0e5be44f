package events

// DestroyReason explains why a player or node was destroyed.
type DestroyReason string

const (
	ReasonQueueEmpty                        DestroyReason = "QueueEmpty"
	ReasonNodeDestroy                       DestroyReason = "NodeDestroy"
	ReasonNodeDeleted                       DestroyReason = "NodeDeleted"
	ReasonLavalinkNoVoice                   DestroyReason = "LavalinkNoVoice"
	ReasonNodeReconnectFail                 DestroyReason = "NodeReconnectFail"
	ReasonDisconnected                      DestroyReason = "Disconnected"
	ReasonPlayerReconnectFail               DestroyReason = "PlayerReconnectFail"
	ReasonChannelDeleted                    DestroyReason = "ChannelDeleted"
	ReasonDisconnectAllNodes                DestroyReason = "DisconnectAllNodes"
	ReasonReconnectAllNodes                 DestroyReason = "ReconnectAllNodes"
	ReasonTrackErrorMaxTracksErroredPerTime DestroyReason = "TrackErrorMaxTracksErroredPerTime"
	ReasonTrackStuckMaxTracksErroredPerTime DestroyReason = "TrackStuckMaxTracksErroredPerTime"
	ReasonManagerClosed                     DestroyReason = "ManagerClosed"
)
