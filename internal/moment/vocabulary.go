package moment

// Event names emitted by the extractors.
const (
	UserTouchesScreen       = "user touches screen"
	AddStroke               = "add a stroke"
	AddPointsToStroke       = "add points to stroke"
	SendDataPktToCloud      = "send data pkt to cloud"
	ReceiveAckPktFromCloud  = "receive ack pkt from cloud"
	ReceiveDataPktFromCloud = "receive data pkt from cloud"
	SendAckPktToCloud       = "send ack pkt to cloud"
	ReceivePointUpdates     = "receive point updates"
	FinishRendering         = "finish rendering"
	TCPDataPkt              = "TCP data pkt"
	TCPAckPkt               = "TCP ack pkt"

	// NotifiedCloudProcessingDone is the host learning that the relay
	// stored its stroke.
	NotifiedCloudProcessingDone = "notified by finish of cloud processing"
)

// Metadata keys written by the extractors.
const (
	MetaStrokeID = "stroke_id"
	MetaSrcIP    = "src_ip"
	MetaDstIP    = "dst_ip"
	MetaType     = "type"
	MetaSize     = "size"
)

// IsPhaseTrigger reports whether an unclaimed moment with this name starts
// a new phase: a touch when the device is idle, or more points while an
// interaction burst continues.
func IsPhaseTrigger(name string) bool {
	return name == UserTouchesScreen || name == AddPointsToStroke
}
