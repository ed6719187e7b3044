package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
	"github.com/pretyflaco/openagents-sub005/pkg/wire"
)

func TestID_RoundTripsString(t *testing.T) {
	id := wire.NewStringID("req-1")
	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"req-1"`, string(b))

	var decoded wire.ID
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Equal(id))
}

func TestID_RoundTripsInteger(t *testing.T) {
	id := wire.NewIntID(42)
	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `42`, string(b))

	var decoded wire.ID
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Equal(id))
}

func TestID_RejectsOtherTypes(t *testing.T) {
	var decoded wire.ID
	err := json.Unmarshal([]byte(`true`), &decoded)
	assert.Error(t, err)
}

func TestMessage_Classify(t *testing.T) {
	id := wire.NewIntID(1)

	req := wire.Message{ID: &id, Method: "thread/start"}
	assert.Equal(t, wire.KindRequest, req.Classify())

	resp := wire.Message{ID: &id, Result: json.RawMessage(`{}`)}
	assert.Equal(t, wire.KindResponse, resp.Classify())

	notif := wire.Message{Method: "turn/started"}
	assert.Equal(t, wire.KindNotification, notif.Classify())

	unknown := wire.Message{}
	assert.Equal(t, wire.KindUnknown, unknown.Classify())
}

type lifecycle int

const (
	lifecycleReady lifecycle = iota
	lifecycleError
)

func TestEnumMapping_DecodeTotal(t *testing.T) {
	mapping := wire.EnumMapping[lifecycle]{
		"ready": lifecycleReady,
		"error": lifecycleError,
	}

	v, err := mapping.Decode("lifecycle", "ready")
	require.NoError(t, err)
	assert.Equal(t, lifecycleReady, v)

	_, err = mapping.Decode("lifecycle", "bogus")
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInvalidEnum, kind)
}

func TestEnum_EncodeMissingIsInternal(t *testing.T) {
	encoding := map[lifecycle]string{lifecycleReady: "ready"}
	_, err := wire.Encode(encoding, "lifecycle", lifecycleError)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindInternal, kind)
}
