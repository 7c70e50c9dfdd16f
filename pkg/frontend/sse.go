package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSE writes one server-sent event with the given type and a JSON
// payload: "event: <type>\ndata: <json>\n\n".
func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
