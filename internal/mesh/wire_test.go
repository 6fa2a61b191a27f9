package mesh

import (
	"encoding/json"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sub := Subscribe{ChainKey: "chain-1", FromMs: 42}
	raw, err := Encode(KindSubscribe, sub)
	require.NoError(t, err)

	kind, data, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindSubscribe, kind)

	var got Subscribe
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sub, got)
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	_, _, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestToWireEventAndBackRoundTripsMetadataAndData(t *testing.T) {
	strong := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}},
		Data:   []byte("payload"),
		Format: eventmodel.FormatJSON,
	}
	we := ToWireEvent(strong)
	weak := FromWireEvent(we)

	back, err := weak.Strengthen()
	require.NoError(t, err)
	assert.Equal(t, strong.Meta, back.Meta)
	assert.Equal(t, strong.Data, back.Data)
}

func TestToWireEventLazyCarriesDescriptorNotBytes(t *testing.T) {
	strong := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}},
		Data:   []byte("payload"),
		Format: eventmodel.FormatJSON,
	}
	we, err := ToWireEventLazy(strong)
	require.NoError(t, err)
	assert.Nil(t, we.Data)
	require.NotNil(t, we.LazyPayload)
	assert.Equal(t, int64(len("payload")), we.LazyPayload.Len)

	weak := FromWireEvent(we)
	assert.True(t, weak.Data.IsLazySome())
}

func TestFromWireEventWithNoDataYieldsNoData(t *testing.T) {
	we := WireEvent{Meta: eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}}, Format: eventmodel.FormatJSON}
	weak := FromWireEvent(we)
	assert.False(t, weak.Data.IsSome())
	assert.False(t, weak.Data.IsLazySome())
}
