package httpserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeTextFrameReadsRouteKey(t *testing.T) {
	route, payload, err := decodeTextFrame([]byte(`{"route_key":"submitOrder","data":1}`))
	require.NoError(t, err)
	require.Equal(t, "submitOrder", route)
	require.JSONEq(t, `{"route_key":"submitOrder","data":1}`, string(payload))
}

func TestDecodeTextFrameDefaultsRouteWhenMissing(t *testing.T) {
	route, _, err := decodeTextFrame([]byte(`{"data":1}`))
	require.NoError(t, err)
	require.Equal(t, RouteDefault, route)
}

func TestDecodeBinaryFrameRoundTrips(t *testing.T) {
	route := "submitOrder"
	msgID := "m-1"
	body := []byte(`{"amount":5}`)

	frame := []byte{byte(len(route))}
	frame = append(frame, route...)
	frame = append(frame, byte(len(msgID)))
	frame = append(frame, msgID...)
	frame = append(frame, body...)

	gotRoute, gotMsgID, gotPayload, err := decodeBinaryFrame(frame)
	require.NoError(t, err)
	require.Equal(t, route, gotRoute)
	require.Equal(t, msgID, gotMsgID)
	require.Equal(t, body, gotPayload)
}

func TestDecodeBinaryFrameRejectsShortFrame(t *testing.T) {
	_, _, _, err := decodeBinaryFrame([]byte{5, 'a', 'b'})
	require.Error(t, err)
}
