package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

func (h Handle) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(&struct {
		ID        string   `json:"id"`
		Subject   string   `json:"subject"`
		Actor     string   `json:"actor"`
		Width     string   `json:"width"`
		Origin    string   `json:"origin"`
		Blob      string   `json:"blob,omitempty"`
		Opcode    string   `json:"opcode,omitempty"`
		Operands  []string `json:"operands,omitempty"`
		Value     uint64   `json:"value,omitempty"`
		CreatedAt string   `json:"createdAt"`
	}{
		ID:        h.ID.String(),
		Subject:   string(h.Subject),
		Actor:     string(h.Actor),
		Width:     h.Width.String(),
		Origin:    h.Origin.String(),
		Blob:      blobString(h),
		Opcode:    opcodeString(h),
		Operands:  convertHandleIDsToStrings(h.Operands),
		Value:     h.Value,
		CreatedAt: h.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}, "", "    ")
}

func blobString(h Handle) string {
	if h.Origin != OriginExternal {
		return ""
	}
	return hex.EncodeToString(h.Blob[:])
}

func opcodeString(h Handle) string {
	if h.Origin != OriginDerived {
		return ""
	}
	return h.Opcode.String()
}

func convertHandleIDsToStrings(ids []HandleID) []string {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}

func (h *Handle) PrettyPrint() {
	jsonBytes, err := h.MarshalJSON()
	if err != nil {
		fmt.Println("Error marshalling Handle to JSON:", err)
		return
	}

	fmt.Println(string(jsonBytes))
}
