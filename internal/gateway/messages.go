package gateway

import "encoding/json"

// Client frame types.
const (
	msgAuthenticate     = "Authenticate"
	msgSubscribeTable   = "SubscribeTable"
	msgUnsubscribeTable = "UnsubscribeTable"
	msgAction           = "Action"
	msgChatSend         = "ChatSend"
)

// Server frame types built here; bus payloads (TableSnapshot, HoleCards,
// LobbyTablesUpdated, ChatMessage) arrive pre-encoded and pass through
// verbatim.
const (
	msgWelcome      = "Welcome"
	msgActionResult = "ActionResult"
	msgError        = "Error"
)

// clientMessage is the flat inbound frame; fields beyond Type are read
// depending on it.
type clientMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	TableID string `json:"tableId,omitempty"`
	Action  string `json:"action,omitempty"`
	Amount  *int   `json:"amount,omitempty"`
	Text    string `json:"text,omitempty"`
}

func encodeFrame(fields map[string]any) []byte {
	raw, err := json.Marshal(fields)
	if err != nil {
		// All frames are built from plain maps of encodable values.
		panic("gateway: unencodable frame: " + err.Error())
	}
	return raw
}

func welcomeFrame(userID, connectionID string) []byte {
	return encodeFrame(map[string]any{
		"type":         msgWelcome,
		"userId":       userID,
		"connectionId": connectionID,
	})
}

func actionResultFrame(accepted bool, reason string) []byte {
	fields := map[string]any{"type": msgActionResult, "accepted": accepted}
	if reason != "" {
		fields["reason"] = reason
	}
	return encodeFrame(fields)
}

func errorFrame(code, message string) []byte {
	return encodeFrame(map[string]any{
		"type":    msgError,
		"code":    code,
		"message": message,
	})
}
