package trust

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return NewSigner(pub, priv)
}

func TestSignerSignRecordVerifiesWithSignaturePlugin(t *testing.T) {
	signer := newTestSigner(t)
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)
	ctx := context.Background()

	// A PublicKey record introduces the key first.
	introduce := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{signer.PublicKeyRecord()},
		Format: eventmodel.FormatJSON,
	}
	introHeader, err := eventmodel.BuildHeader(introduce)
	require.NoError(t, err)
	vote, err := p.Validate(ctx, introduce, introHeader.Raw)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
	require.NoError(t, p.Index(ctx, introduce, introHeader.Raw))

	// A later event signed by that key must verify.
	h := eventmodel.Sum([]byte("payload"))
	sigRecord, err := signer.SignRecord(h)
	require.NoError(t, err)

	signed := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}, sigRecord},
		Format: eventmodel.FormatJSON,
	}
	header, err := eventmodel.BuildHeader(signed)
	require.NoError(t, err)
	vote, err = p.Validate(ctx, signed, header.Raw)
	assert.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
}

func TestSignaturePluginRejectsUnknownSigner(t *testing.T) {
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)

	badSig := eventmodel.Signature{
		PublicKeyHash:  "nonexistent",
		SignedHashes:   []string{base64.StdEncoding.EncodeToString(eventmodel.Sum([]byte("x")).Bytes())},
		SignatureBytes: base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize)),
	}
	ev := eventmodel.StrongEvent{Meta: eventmodel.Metadata{badSig}, Format: eventmodel.FormatJSON}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)

	vote, err := p.Validate(context.Background(), ev, header.Raw)
	assert.Equal(t, plugin.Deny, vote)
	assert.ErrorIs(t, err, ErrUnknownSigner)
}

func TestSignaturePluginRejectsTamperedSignature(t *testing.T) {
	signer := newTestSigner(t)
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)
	ctx := context.Background()

	introduce := eventmodel.StrongEvent{Meta: eventmodel.Metadata{signer.PublicKeyRecord()}, Format: eventmodel.FormatJSON}
	introHeader, err := eventmodel.BuildHeader(introduce)
	require.NoError(t, err)
	require.NoError(t, p.Index(ctx, introduce, introHeader.Raw))

	h := eventmodel.Sum([]byte("payload"))
	sigRecord, err := signer.SignRecord(h)
	require.NoError(t, err)
	// Reference a different hash than what was actually signed.
	sigRecord.SignedHashes = []string{base64.StdEncoding.EncodeToString(eventmodel.Sum([]byte("other")).Bytes())}

	ev := eventmodel.StrongEvent{Meta: eventmodel.Metadata{sigRecord}, Format: eventmodel.FormatJSON}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)

	vote, err := p.Validate(ctx, ev, header.Raw)
	assert.Equal(t, plugin.Deny, vote)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestSignaturePluginEnforcesSignWith(t *testing.T) {
	signer := newTestSigner(t)
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)

	ev := eventmodel.StrongEvent{
		Meta: eventmodel.Metadata{
			eventmodel.SignWith{KeyHashes: []string{signer.KeyHash()}},
		},
		Format: eventmodel.FormatJSON,
	}
	header, err := eventmodel.BuildHeader(ev)
	require.NoError(t, err)

	vote, err := p.Validate(context.Background(), ev, header.Raw)
	assert.Equal(t, plugin.Deny, vote)
	assert.ErrorIs(t, err, ErrMissingRequiredSignature)
}

func TestSignaturePluginMarksKeyProvenInCentralizedMode(t *testing.T) {
	signer := newTestSigner(t)
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)

	conv := plugin.NewConversation(false)
	ctx := plugin.WithIntegrityMode(context.Background(), plugin.IntegrityCentralizedServer)
	ctx = plugin.WithConversation(ctx, conv)

	introduce := eventmodel.StrongEvent{Meta: eventmodel.Metadata{signer.PublicKeyRecord()}, Format: eventmodel.FormatJSON}
	introHeader, err := eventmodel.BuildHeader(introduce)
	require.NoError(t, err)
	require.NoError(t, p.Index(ctx, introduce, introHeader.Raw))

	h := eventmodel.Sum([]byte("payload"))
	sigRecord, err := signer.SignRecord(h)
	require.NoError(t, err)
	signed := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}, sigRecord},
		Format: eventmodel.FormatJSON,
	}
	header, err := eventmodel.BuildHeader(signed)
	require.NoError(t, err)

	vote, err := p.Validate(ctx, signed, header.Raw)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, vote)
	assert.Contains(t, conv.ProvenKeys(), signer.KeyHash())
}

func TestSignaturePluginDoesNotMarkProvenInDistributedMode(t *testing.T) {
	signer := newTestSigner(t)
	dir := NewKeyDirectory()
	p := NewSignaturePlugin(dir)

	conv := plugin.NewConversation(false)
	ctx := plugin.WithConversation(context.Background(), conv)

	introduce := eventmodel.StrongEvent{Meta: eventmodel.Metadata{signer.PublicKeyRecord()}, Format: eventmodel.FormatJSON}
	introHeader, err := eventmodel.BuildHeader(introduce)
	require.NoError(t, err)
	require.NoError(t, p.Index(ctx, introduce, introHeader.Raw))

	h := eventmodel.Sum([]byte("payload"))
	sigRecord, err := signer.SignRecord(h)
	require.NoError(t, err)
	signed := eventmodel.StrongEvent{
		Meta:   eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}, sigRecord},
		Format: eventmodel.FormatJSON,
	}
	header, err := eventmodel.BuildHeader(signed)
	require.NoError(t, err)

	_, err = p.Validate(ctx, signed, header.Raw)
	require.NoError(t, err)
	assert.Empty(t, conv.ProvenKeys())
}

func TestSignerWithoutPrivateKeyFailsSign(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := NewSigner(pub, nil)
	_, err = signer.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrNoPrivateKey)
}

func TestKeyDirectoryLookup(t *testing.T) {
	dir := NewKeyDirectory()
	_, ok := dir.Lookup("missing")
	assert.False(t, ok)
}
