package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/busmsg"
	"github.com/quantlane/meanrev/internal/position"
)

// intentWire is the flat JSON shape an Intent is serialised to before it is
// stuffed into a single Redis Stream field. The domain model
// (busmsg.Payload variants) stays a tagged union in memory; this struct
// exists only at the transport boundary.
type intentWire struct {
	EventID        string   `json:"event_id"`
	Symbol         string   `json:"symbol"`
	Action         string   `json:"action"`
	Direction      string   `json:"direction"`
	ReferencePrice string   `json:"reference_price"`
	TS             string   `json:"ts"`
	DedupeKey      string   `json:"dedupe_key"`
	TargetLotID    string   `json:"target_lot_id,omitempty"`
	TargetLots     []string `json:"target_lots,omitempty"`
}

// IntentCodec is the Codec[busmsg.Intent] used for the Signal Bus stream.
var IntentCodec = Codec[busmsg.Intent]{
	Encode: func(in busmsg.Intent) map[string]interface{} {
		w := intentWire{
			EventID:        in.EventID,
			Symbol:         in.Symbol,
			Action:         string(in.Action),
			Direction:      string(in.Direction),
			ReferencePrice: in.ReferencePrice.String(),
			TS:             in.TS.UTC().Format(time.RFC3339Nano),
			DedupeKey:      in.DedupeKey,
		}
		switch p := in.Payload.(type) {
		case busmsg.SingleLotPayload:
			w.TargetLotID = p.TargetLotID
		case busmsg.NewestLotPayload:
			// resolved against book state at fill time; nothing to carry.
		case busmsg.MultiLotPayload:
			w.TargetLots = p.TargetLots
		case busmsg.EntryPayload:
			// no target: the lot doesn't exist until the fill arrives.
		}
		buf, _ := json.Marshal(w)
		return map[string]interface{}{"data": buf}
	},
	Decode: func(fields map[string]interface{}) (busmsg.Intent, error) {
		raw, ok := fields["data"]
		if !ok {
			return busmsg.Intent{}, fmt.Errorf("missing data field")
		}
		s, ok := raw.(string)
		if !ok {
			return busmsg.Intent{}, fmt.Errorf("data field not a string")
		}
		var w intentWire
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			return busmsg.Intent{}, err
		}
		price, err := decimal.NewFromString(w.ReferencePrice)
		if err != nil {
			return busmsg.Intent{}, err
		}
		ts, err := time.Parse(time.RFC3339Nano, w.TS)
		if err != nil {
			return busmsg.Intent{}, err
		}
		action := busmsg.Action(w.Action)
		intent := busmsg.Intent{
			EventID:        w.EventID,
			Symbol:         w.Symbol,
			Action:         action,
			Direction:      position.Direction(w.Direction),
			ReferencePrice: price,
			TS:             ts,
			DedupeKey:      w.DedupeKey,
			Payload:        payloadFor(action, w),
		}
		return intent, nil
	},
}

func payloadFor(action busmsg.Action, w intentWire) busmsg.Payload {
	switch action {
	case busmsg.ActionStopLoss, busmsg.ActionTakeProfit:
		return busmsg.NewSingleLotPayload(action, w.TargetLotID)
	case busmsg.ActionScaleOut, busmsg.ActionNearTouch, busmsg.ActionInitOut:
		return busmsg.NewNewestLotPayload(action)
	case busmsg.ActionNormalExit, busmsg.ActionRiskControl:
		return busmsg.NewMultiLotPayload(action, w.TargetLots)
	default:
		return busmsg.NewEntryPayload(action)
	}
}
