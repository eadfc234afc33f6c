package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantlane/meanrev/internal/busmsg"
)

type fillWire struct {
	EventID    string `json:"event_id"`
	IntentID   string `json:"intent_id"`
	Symbol     string `json:"symbol"`
	LotID      string `json:"lot_id,omitempty"`
	FillPrice  string `json:"fill_price"`
	FilledSize string `json:"filled_size"`
	TS         string `json:"ts"`
	Status     string `json:"status"`
}

// FillCodec is the Codec[busmsg.Fill] used for the Fill stream.
var FillCodec = Codec[busmsg.Fill]{
	Encode: func(f busmsg.Fill) map[string]interface{} {
		w := fillWire{
			EventID:    f.EventID,
			IntentID:   f.IntentID,
			Symbol:     f.Symbol,
			LotID:      f.LotID,
			FillPrice:  f.FillPrice.String(),
			FilledSize: f.FilledSize.String(),
			TS:         f.TS.UTC().Format(time.RFC3339Nano),
			Status:     string(f.Status),
		}
		buf, _ := json.Marshal(w)
		return map[string]interface{}{"data": buf}
	},
	Decode: func(fields map[string]interface{}) (busmsg.Fill, error) {
		raw, ok := fields["data"]
		if !ok {
			return busmsg.Fill{}, fmt.Errorf("missing data field")
		}
		s, ok := raw.(string)
		if !ok {
			return busmsg.Fill{}, fmt.Errorf("data field not a string")
		}
		var w fillWire
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			return busmsg.Fill{}, err
		}
		price, err := decimal.NewFromString(w.FillPrice)
		if err != nil {
			return busmsg.Fill{}, err
		}
		size, err := decimal.NewFromString(w.FilledSize)
		if err != nil {
			return busmsg.Fill{}, err
		}
		ts, err := time.Parse(time.RFC3339Nano, w.TS)
		if err != nil {
			return busmsg.Fill{}, err
		}
		return busmsg.Fill{
			EventID:    w.EventID,
			IntentID:   w.IntentID,
			Symbol:     w.Symbol,
			LotID:      w.LotID,
			FillPrice:  price,
			FilledSize: size,
			TS:         ts,
			Status:     busmsg.FillStatus(w.Status),
		}, nil
	},
}
