package protocol

import "encoding/json"

// Transport event kinds produced by MapFrame.
const (
	TransportHealth = "health"
	TransportTick   = "tick"
	TransportChat   = "chat"
	TransportSeqGap = "seqGap"
)

// TransportEvent is the normalized client-side view of a server frame.
// UI layers consume these instead of raw frames.
type TransportEvent struct {
	Kind string

	// health
	Healthy bool

	// chat
	Chat ChatEvent

	// seqGap
	Expected int64
	Received int64
}

// MapFrame translates a decoded server frame into a transport event.
// Unknown event names map to nil (dropped). rpc.res frames are correlated
// elsewhere and also return nil here.
func MapFrame(data []byte) (*TransportEvent, error) {
	frameType, err := ParseFrameType(data)
	if err != nil {
		return nil, err
	}

	switch frameType {
	case FrameTypeSnapshot:
		var snap SnapshotFrame
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
		return &TransportEvent{Kind: TransportHealth, Healthy: snap.Hello.Snapshot.Health.OK}, nil

	case FrameTypeEvent:
		var ev EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return mapEvent(&ev), nil

	case FrameTypeSeqGap:
		var gap SeqGapFrame
		if err := json.Unmarshal(data, &gap); err != nil {
			return nil, err
		}
		return &TransportEvent{Kind: TransportSeqGap, Expected: gap.Expected, Received: gap.Received}, nil
	}
	return nil, nil
}

func mapEvent(ev *EventFrame) *TransportEvent {
	switch ev.Event {
	case EventHealth:
		ok, has := ev.Payload.GetBool("ok")
		if !has {
			return nil
		}
		return &TransportEvent{Kind: TransportHealth, Healthy: ok}

	case EventTick:
		return &TransportEvent{Kind: TransportTick}

	case EventChat:
		out := &TransportEvent{Kind: TransportChat}
		out.Chat.RunID, _ = ev.Payload.GetString("runId")
		out.Chat.SessionKey, _ = ev.Payload.GetString("sessionKey")
		out.Chat.State, _ = ev.Payload.GetString("state")
		out.Chat.Text, _ = ev.Payload.GetString("text")
		return out
	}

	// Unknown events are dropped rather than surfaced.
	return nil
}
