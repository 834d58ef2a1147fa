package models

import "encoding/json"

// -----------------------------------------------------------------------------
// Wire tolerance helpers. The upstream is loose about field names, so
// candle and online payloads are accepted in every shape it emits.
// -----------------------------------------------------------------------------

// ExtractVelaValues pulls the candle series out of a vela payload. Accepts
// {"valores": [...]}, {"velas": [...]} or a bare array.
func ExtractVelaValues(raw []byte) []float64 {
	var obj struct {
		Valores []float64 `json:"valores"`
		Velas   []float64 `json:"velas"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if len(obj.Valores) > 0 {
			return obj.Valores
		}
		if len(obj.Velas) > 0 {
			return obj.Velas
		}
	}

	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	return nil
}

// -----------------------------------------------------------------------------

// ExtractOnlineCount pulls the viewer count out of an online payload.
// Accepts {"count": n} or {"online": n}.
func ExtractOnlineCount(raw []byte) int {
	var obj struct {
		Count  int `json:"count"`
		Online int `json:"online"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0
	}
	if obj.Count > 0 {
		return obj.Count
	}
	return obj.Online
}
